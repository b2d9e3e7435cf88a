package pipeline

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/summarize"
)

func metricStatus(s summarize.Status) metric.MeasurementOption {
	return metric.WithAttributes(observe.Attr("status", s.String()))
}

func (p *Pipeline) backendAttr() metric.MeasurementOption {
	mode := "async"
	if p.transcriber != nil {
		mode = "sync"
	}
	return metric.WithAttributes(observe.Attr("backend", mode))
}
