// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics exports selector activity as Prometheus counters.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/emg_hand/internal/hand"
)

// Recorder counts selector events. It implements hand.Observer.
type Recorder struct {
	registry *prometheus.Registry

	sessions     prometheus.Counter
	detected     *prometheus.CounterVec
	invalid      prometheus.Counter
	aborted      prometheus.Counter
	calibrations *prometheus.CounterVec
	elapsed      prometheus.Histogram
	fingerAngle  *prometheus.GaugeVec
}

// NewRecorder registers the counters on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emg_hand",
			Name:      "sessions_started_total",
			Help:      "Sampling sessions started.",
		}),
		detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emg_hand",
			Name:      "movements_detected_total",
			Help:      "Detected movements by finger.",
		}, []string{"finger"}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emg_hand",
			Name:      "movements_invalid_total",
			Help:      "Completed sequences that matched no movement.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emg_hand",
			Name:      "sessions_aborted_total",
			Help:      "Sessions aborted by a sensor or quantization fault.",
		}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emg_hand",
			Name:      "calibrations_total",
			Help:      "Finished calibrations by result.",
		}, []string{"result"}),
		elapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emg_hand",
			Name:      "capture_seconds",
			Help:      "Capture window length of completed sessions.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
		fingerAngle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "emg_hand",
			Name:      "finger_angle_degrees",
			Help:      "Last commanded finger angle.",
		}, []string{"finger"}),
	}
	r.registry.MustRegister(r.sessions, r.detected, r.invalid, r.aborted, r.calibrations, r.elapsed, r.fingerAngle)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Notify(ev hand.Event) {
	switch ev.Kind {
	case hand.EventSessionStarted:
		r.sessions.Inc()
	case hand.EventMovementExecuted:
		if ev.Err != nil {
			return
		}
		finger := strconv.Itoa(ev.Finger + 1)
		r.detected.WithLabelValues(finger).Inc()
		r.fingerAngle.WithLabelValues(finger).Set(float64(ev.Angle))
		r.elapsed.Observe(ev.Elapsed.Seconds())
	case hand.EventMovementInvalid:
		r.invalid.Inc()
		r.elapsed.Observe(ev.Elapsed.Seconds())
	case hand.EventSessionAborted:
		r.aborted.Inc()
	case hand.EventCalibrationDone:
		r.calibrations.WithLabelValues("ok").Inc()
	case hand.EventCalibrationFailed:
		r.calibrations.WithLabelValues("failed").Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on port until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("metrics: listening on :%d/metrics", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
