package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal tracks total number of downloads by terminal status
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundbase_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	// DownloadDuration tracks download duration in seconds
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soundbase_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// ActiveDownloads tracks number of active downloads
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soundbase_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// PausedDownloads tracks number of paused downloads holding resume data
	PausedDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soundbase_paused_downloads",
			Help: "Number of paused downloads",
		},
	)

	// DownloadBytesTotal tracks total bytes downloaded
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soundbase_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// PlaylistSize tracks current playlist size
	PlaylistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soundbase_playlist_size",
			Help: "Current playlist size",
		},
	)

	// EventsPublished tracks events published on the bus by type
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundbase_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"type"},
	)

	// EventsDropped tracks events dropped because a subscriber was slow
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundbase_events_dropped_total",
			Help: "Total number of events dropped by slow subscribers",
		},
		[]string{"type"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundbase_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordDownloadStart records the start of a download
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a completed download
func RecordDownloadComplete(duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed").Inc()
	DownloadDuration.Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a failed download
func RecordDownloadFailed(errorType string) {
	DownloadsTotal.WithLabelValues("failed").Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// RecordDownloadPaused records a download moving into the paused state
func RecordDownloadPaused() {
	PausedDownloads.Inc()
	ActiveDownloads.Dec()
}

// RecordDownloadResumed records a paused download going active again
func RecordDownloadResumed() {
	PausedDownloads.Dec()
	ActiveDownloads.Inc()
}

// RecordDownloadCancelled records a cancelled download
func RecordDownloadCancelled(wasActive bool) {
	DownloadsTotal.WithLabelValues("cancelled").Inc()
	if wasActive {
		ActiveDownloads.Dec()
	} else {
		PausedDownloads.Dec()
	}
}

// UpdatePlaylistSize updates the playlist size metric
func UpdatePlaylistSize(size int) {
	PlaylistSize.Set(float64(size))
}

// RecordEventPublished records an event published on the bus
func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped by a slow subscriber
func RecordEventDropped(eventType string) {
	EventsDropped.WithLabelValues(eventType).Inc()
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
