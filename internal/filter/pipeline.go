package filter

import (
	"fmt"

	"github.com/robert-malhotra/h5coro/internal/message"
)

// Pipeline decodes chunks written through a filter pipeline message.
type Pipeline struct {
	filters []Filter
}

// NewPipeline prepares decoders for fp. Filters without a decoder only
// fail when a chunk actually needs them.
func NewPipeline(fp *message.FilterPipeline, chunkBytes int) *Pipeline {
	p := &Pipeline{}
	if fp == nil {
		return p
	}
	for _, info := range fp.Filters {
		f, err := New(info, chunkBytes)
		if err != nil {
			f = unsupported{id: info.ID, err: err}
		}
		p.filters = append(p.filters, f)
	}
	return p
}

// Decode applies the filters in reverse order, skipping filter i when bit
// i of mask is set.
func (p *Pipeline) Decode(input []byte, mask uint32) ([]byte, error) {
	data := input
	for i := len(p.filters) - 1; i >= 0; i-- {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			continue
		}
		out, err := p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s filter: %w", Name(p.filters[i].ID()), err)
		}
		data = out
	}
	return data, nil
}

// Empty reports whether the pipeline has no filters.
func (p *Pipeline) Empty() bool { return len(p.filters) == 0 }

// Len returns the number of filters.
func (p *Pipeline) Len() int { return len(p.filters) }
