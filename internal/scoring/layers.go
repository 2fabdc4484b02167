package scoring

import (
	"context"
	"errors"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// LayerKind records where a soil or imperviousness input came from.
type LayerKind string

const (
	LayerAbsent   LayerKind = "absent"
	LayerProxy    LayerKind = "proxy"
	LayerExternal LayerKind = "external"
)

// ErrAbsent is returned by an AuxLayer that has no data for the request.
var ErrAbsent = errors.New("auxiliary layer absent")

// AuxLayer samples an auxiliary raster (soil, imperviousness) over a bbox.
type AuxLayer interface {
	Sample(ctx context.Context, b raster.BBox) (*raster.Grid, error)
}

// Layer is a resolved auxiliary input. Proxy layers carry no grid.
type Layer struct {
	Kind LayerKind
	Grid *raster.Grid
	Path string
}

// ResolveLayer samples aux once. A nil layer, ErrAbsent or a grid without
// data resolves to the terrain proxy; other errors are returned.
func ResolveLayer(ctx context.Context, aux AuxLayer, b raster.BBox) (Layer, error) {
	if aux == nil {
		return Layer{Kind: LayerProxy}, nil
	}
	g, err := aux.Sample(ctx, b)
	if errors.Is(err, ErrAbsent) {
		return Layer{Kind: LayerProxy}, nil
	}
	if err != nil {
		return Layer{}, err
	}
	if g == nil || g.ValidCount() == 0 {
		return Layer{Kind: LayerProxy}, nil
	}
	l := Layer{Kind: LayerExternal, Grid: g}
	if p, ok := aux.(interface{ Path() string }); ok {
		l.Path = p.Path()
	}
	return l, nil
}
