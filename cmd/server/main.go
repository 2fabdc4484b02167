package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	geojson "github.com/paulmach/go.geojson"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hydrowatch/hydrorisk-backend/internal/analysis"
	"github.com/hydrowatch/hydrorisk-backend/internal/api"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/service"
	"github.com/hydrowatch/hydrorisk-backend/internal/source"
	"github.com/hydrowatch/hydrorisk-backend/internal/spatial"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hydrorisk",
		Short:        "Flood-runoff and erosion-risk screening backend",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), analyzeCmd(), watershedCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogMode)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs := service.NewJobService(a.jobs, a.runner, cfg.Pipeline, service.NewBroker(), 4*cfg.Workers, logger)
			jobs.Start(cfg.Workers)
			defer jobs.Close()

			router, stopRouter := api.SetupRouter(api.Deps{
				Jobs:      jobs,
				Watershed: service.NewWatershedService(a.runner, cfg.Pipeline, logger),
				Logger:    logger,
				JWTSecret: cfg.JWTSecret,
				RateLimit: cfg.RateLimit,
			})
			defer stopRouter()

			srv := &http.Server{Addr: cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() {
				logger.Info("server starting",
					zap.String("addr", cfg.Port),
					zap.String("dem_source", cfg.DEMSource),
					zap.Int("workers", cfg.Workers),
					zap.Bool("auth", cfg.JWTSecret != ""))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// cliFlags are the request flags shared by the offline commands.
type cliFlags struct {
	dem        string
	bbox       []float64
	aoiPath    string
	kind       string
	threshold  int
	resolution float64
	out        string
	verbose    bool
}

func (f *cliFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dem, "dem", "", "DEM file (ESRI ASCII grid or GeoTIFF with world file)")
	cmd.Flags().Float64SliceVar(&f.bbox, "bbox", nil, "AOI as minLon,minLat,maxLon,maxLat")
	cmd.Flags().StringVar(&f.aoiPath, "aoi", "", "AOI as GeoJSON Polygon geometry file")
	cmd.Flags().IntVar(&f.threshold, "threshold", 0, "accumulation threshold in cells")
	cmd.Flags().Float64Var(&f.resolution, "resolution", 0, "working resolution in metres")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log pipeline stages")
	_ = cmd.MarkFlagRequired("dem")
}

func (f *cliFlags) aoiRequest() (spatial.AOIRequest, error) {
	req := spatial.AOIRequest{BBox: f.bbox}
	if f.aoiPath != "" {
		raw, err := os.ReadFile(f.aoiPath)
		if err != nil {
			return req, err
		}
		if req.Geometry, err = geojson.UnmarshalGeometry(raw); err != nil {
			return req, fmt.Errorf("parse AOI: %w", err)
		}
	}
	return req, nil
}

func (f *cliFlags) aoi() (*spatial.AOI, error) {
	req, err := f.aoiRequest()
	if err != nil {
		return nil, err
	}
	return spatial.ParseAOI(req)
}

// setup builds a file-backed runner and the request pipeline.
func (f *cliFlags) setup() (*analysis.Runner, config.Pipeline, *zap.Logger, error) {
	logger := zap.NewNop()
	if f.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, config.Pipeline{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Pipeline{}, nil, err
	}
	src := source.NewFileSource(f.dem, cfg.Pipeline.WorkCRS)
	runner, err := analysis.NewRunner(map[string]*source.Builder{
		config.SourceFile: source.NewBuilder(src, cfg, logger),
	}, nil, logger)
	if err != nil {
		return nil, config.Pipeline{}, nil, err
	}
	if cfg.SoilRasterPath != "" {
		runner.Soil = source.NewFileSource(cfg.SoilRasterPath, cfg.Pipeline.WorkCRS)
	}
	if cfg.ImperviousRasterPath != "" {
		runner.Impervious = source.NewFileSource(cfg.ImperviousRasterPath, cfg.Pipeline.WorkCRS)
	}
	p := cfg.Pipeline.WithOverrides(config.Overrides{
		Kind:       f.kind,
		SourceMode: config.SourceFile,
		Resolution: f.resolution,
		Threshold:  f.threshold,
	})
	return runner, p, logger, nil
}

func (f *cliFlags) write(cmd *cobra.Command, v interface{}) error {
	var w io.Writer = cmd.OutOrStdout()
	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func analyzeCmd() *cobra.Command {
	var f cliFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis against a local DEM and print the FeatureCollection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			aoi, err := f.aoi()
			if err != nil {
				return err
			}
			runner, p, logger, err := f.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			res, err := runner.Run(cmd.Context(), analysis.Request{JobID: "cli", AOI: aoi, Pipeline: p}, func(pr analysis.Progress) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", pr.Step, pr.Total, pr.Message)
			})
			if err != nil {
				return err
			}
			return f.write(cmd, res)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.kind, "kind", config.KindStarkregen, "analysis kind (starkregen, erosion)")
	return cmd
}

func watershedCmd() *cobra.Command {
	var f cliFlags
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "watershed",
		Short: "Delineate the watershed of one point on a local DEM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner, p, logger, err := f.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			aoi, err := f.aoiRequest()
			if err != nil {
				return err
			}
			req := service.WatershedRequest{AOI: aoi, Lat: lat, Lon: lon}
			res, err := service.NewWatershedService(runner, p, logger).Delineate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return f.write(cmd, res)
		},
	}
	f.register(cmd)
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude of the pour point")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude of the pour point")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
