package observability

import (
	"google.golang.org/grpc/metadata"
)

// metadataCarrier адаптирует metadata.MD к propagation.TextMapCarrier
type metadataCarrier struct {
	md metadata.MD
}

// NewMetadataCarrier создаёт carrier для gRPC metadata
func NewMetadataCarrier(md metadata.MD) *metadataCarrier {
	if md == nil {
		md = metadata.MD{}
	}
	return &metadataCarrier{md: md}
}

// Get возвращает первое значение по ключу (ключи metadata в нижнем регистре)
func (c *metadataCarrier) Get(key string) string {
	vals := c.md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (c *metadataCarrier) Set(key, value string) {
	c.md.Set(key, value)
}

func (c *metadataCarrier) Keys() []string {
	out := make([]string, 0, len(c.md))
	for k := range c.md {
		out = append(out, k)
	}
	return out
}
