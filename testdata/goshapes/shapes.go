// Package shapes declares RPC services over Go types.
package shapes

import "context"

// Shape is anything with an area.
type Shape interface {
	Area() float64
}

//rpc:serializable
type Base struct {
	ID   int64
	Tags map[string]string
}

//rpc:serializable
type Circle struct {
	Base
	Radius float64
}

func (c *Circle) Area() float64 { return 0 }

//rpc:serializable
type Square struct {
	Base
	Side float64
	done chan struct{}
}

func (s Square) Area() float64 { return 0 }

// Blob is not marked serializable.
type Blob struct {
	Data []byte
}

type Color int

const (
	Red Color = iota
	Blue
)

//rpc:service
type ShapeService interface {
	List(ctx context.Context, color Color) ([]Shape, error)
	Save(ctx context.Context, c *Circle) error
}

//rpc:service
type BlobService interface {
	Upload(ctx context.Context, b Blob) error
}
