package sparkle

import "github.com/ShiRenzhi/sparkle/pkg/link"

// Metrics defines the metrics collection interface for Sparkle. It is
// designed to be implemented by Prometheus and other metrics systems;
// the prometheus subpackage provides the canonical adapter. The
// interface is re-exported from pkg/link where the canonical
// definition lives.
//
// Implementations must be safe for concurrent use.
type Metrics = link.Metrics

// NopMetrics is a no-op metrics implementation that discards all
// metrics. It is the default when no metrics collector is configured.
type NopMetrics = link.NopMetrics
