// Package metrics registers the gateway's Prometheus instruments on the
// default registry; main exposes them through promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForwardedObjects counts forwarding attempts per destination and
	// outcome.
	ForwardedObjects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forwarded_objects_total",
		Help: "DICOM objects forwarded, by destination and status.",
	}, []string{"destination", "status"})

	// ForwardDuration observes the end-to-end time of one attempt.
	ForwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forward_duration_seconds",
		Help:    "Time spent forwarding one object to one destination.",
		Buckets: prometheus.DefBuckets,
	}, []string{"destination"})

	// TranscodedFrames counts frames decoded and re-encoded on the way out.
	TranscodedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcoded_frames_total",
		Help: "Pixel data frames transcoded, by output transfer syntax.",
	}, []string{"syntax"})

	// AssociationReopens counts outbound associations closed and reopened
	// to pick up a missing presentation context.
	AssociationReopens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "association_reopens_total",
		Help: "Outbound associations reopened for renegotiation.",
	})

	// StowUploads counts STOW-RS upload attempts per outcome.
	StowUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stow_uploads_total",
		Help: "STOW-RS uploads, by status.",
	}, []string{"status"})
)
