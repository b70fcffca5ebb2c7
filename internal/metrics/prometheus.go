package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "recipebox"

// NewRegistry returns a Prometheus registry exposing the counters of s
// together with the Go runtime collector.
func NewRegistry(s Snapshotter) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg, s); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds one counter per recipe event to reg. Values are read from
// s at scrape time.
func Register(reg prometheus.Registerer, s Snapshotter) error {
	counters := []struct {
		name  string
		help  string
		value func(Snapshot) uint64
	}{
		{"recipes_created_total", "Recipes created.", func(v Snapshot) uint64 { return v.RecipesCreated }},
		{"recipes_updated_total", "Recipes updated by PUT or PATCH.", func(v Snapshot) uint64 { return v.RecipesUpdated }},
		{"recipes_deleted_total", "Recipes deleted.", func(v Snapshot) uint64 { return v.RecipesDeleted }},
	}

	for _, c := range counters {
		value := c.value
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 {
			return float64(value(s.Snapshot()))
		})
		if err := reg.Register(collector); err != nil {
			return err
		}
	}

	return nil
}
