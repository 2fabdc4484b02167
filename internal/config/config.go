package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default working CRS: ETRS89 / UTM zone 32N (EPSG:25832).
const DefaultWorkCRS = "+proj=utm +zone=32 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs"

// Config 应用配置
type Config struct {
	Port        string
	DBPath      string
	DatabaseURL string
	JWTSecret   string
	LogMode     string
	Workers     int
	RateLimit   int

	// DEM acquisition
	DEMSource      string
	WCSURL         string
	WCSCoverageID  string
	WCSCRS         string
	DEMCatalogDir  string
	DEMCatalogTile float64
	DEMFile        string

	SoilRasterPath       string
	ImperviousRasterPath string

	TileFanout     int
	TileTimeout    time.Duration
	TileRetries    int
	TileMaxEdgeM   float64
	CoverageFloor  float64
	MosaicEntries  int
	PersistMosaics bool

	Pipeline Pipeline
}

// Load 加载配置
func Load() (*Config, error) {
	_ = godotenv.Load() // optional .env

	cfg := &Config{
		Port:                 envString("PORT", ":8080"),
		DBPath:               envString("DB_PATH", "./data/hydrorisk.db"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		LogMode:              envString("LOG_MODE", "production"),
		DEMSource:            strings.ToLower(envString("DEM_SOURCE", SourceWCS)),
		WCSURL:               envString("WCS_URL", "https://www.wcs.nrw.de/geobasis/wcs_nw_dgm"),
		WCSCoverageID:        envString("WCS_COVERAGE_ID", "nw_dgm"),
		WCSCRS:               envString("WCS_CRS", "http://www.opengis.net/def/crs/EPSG/0/25832"),
		DEMCatalogDir:        os.Getenv("DEM_CATALOG_DIR"),
		DEMFile:              os.Getenv("DEM_FILE"),
		SoilRasterPath:       os.Getenv("SOIL_RASTER_PATH"),
		ImperviousRasterPath: os.Getenv("IMPERVIOUS_RASTER_PATH"),
		TileTimeout:          envDuration("TILE_TIMEOUT", 120*time.Second),
		PersistMosaics:       envBool("PERSIST_MOSAICS", false),
		Pipeline:             DefaultPipeline(),
	}

	var err error
	if cfg.Workers, err = envInt("WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envInt("RATE_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.TileFanout, err = envInt("TILE_FANOUT", 4); err != nil {
		return nil, err
	}
	if cfg.TileRetries, err = envInt("TILE_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.MosaicEntries, err = envInt("MOSAIC_CACHE_ENTRIES", 16); err != nil {
		return nil, err
	}
	if cfg.TileMaxEdgeM, err = envFloat("TILE_MAX_EDGE_M", 5000); err != nil {
		return nil, err
	}
	if cfg.CoverageFloor, err = envFloat("COVERAGE_FLOOR", 0.5); err != nil {
		return nil, err
	}
	if cfg.DEMCatalogTile, err = envFloat("DEM_CATALOG_TILE_M", 1000); err != nil {
		return nil, err
	}

	p := &cfg.Pipeline
	p.SourceMode = cfg.DEMSource
	p.WorkCRS = envString("WORK_CRS", DefaultWorkCRS)
	if p.Resolution, err = envFloat("DEFAULT_RESOLUTION_M", p.Resolution); err != nil {
		return nil, err
	}
	if p.MaxAnalysisCells, err = envInt("MAX_ANALYSIS_CELLS", p.MaxAnalysisCells); err != nil {
		return nil, err
	}
	if p.MaxOutputFeatures, err = envInt("MAX_OUTPUT_FEATURES", p.MaxOutputFeatures); err != nil {
		return nil, err
	}
	if p.MaxLinePoints, err = envInt("MAX_LINE_POINTS", p.MaxLinePoints); err != nil {
		return nil, err
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("invalid WORKERS: %d", cfg.Workers)
	}
	switch cfg.DEMSource {
	case SourceWCS, SourceCatalog, SourceFile:
	default:
		return nil, fmt.Errorf("invalid DEM_SOURCE: %s", cfg.DEMSource)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return f, nil
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}
