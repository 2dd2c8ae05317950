// Package web serves the ground station's HTTP API: loop status, live PID
// gain tuning and the log tail.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"path"
	"sort"
	"time"

	"hoverhold/internal/control"
	"hoverhold/internal/station"
)

// Loop is the part of the station the API uses. Implementations must be safe
// to call from HTTP handlers.
type Loop interface {
	Status() station.Status
	Gains() map[string]control.Gains
	TuneAll(batch map[string]control.Gains) error
}

func Handler(loop Loop, status *Status, logs *LogBuffer) http.Handler {
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, status.Snapshot(time.Now().UTC(), loop.Status()))
	})

	mux.Handle("/api/gains", gainsHandler(loop))

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" {
				http.NotFound(w, r)
				return
			}
		}
		writeTelemetryPage(w, loop.Status())
	})

	return mux
}

// writeTelemetryPage renders the live telemetry table. It refreshes itself
// once a second.
func writeTelemetryPage(w http.ResponseWriter, st station.Status) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	tel := st.Tick.Telemetry
	rows := [][2]string{
		{"mode", st.Mode},
		{"tick", fmt.Sprint(st.Tick.Seq)},
		{"ceiling", fmt.Sprint(st.Ceiling)},
		{"pressure (hPa)", fmt.Sprintf("%.2f", tel.Pressure)},
		{"magnetometer", fmt.Sprintf("%.0f %.0f %.0f", tel.MagX, tel.MagY, tel.MagZ)},
		{"accelerometer", fmt.Sprintf("%.3f %.3f %.3f", tel.AccX, tel.AccY, tel.AccZ)},
		{"heading", fmt.Sprintf("%s angle=%.3f target=%.3f", st.Heading.State, st.Heading.Angle, st.Heading.Target)},
		{"altitude", fmt.Sprintf("engaged=%t target=%.2f baseline=%d", st.Altitude.Engaged, st.Altitude.TargetPressure, st.Altitude.Baseline)},
		{"detection", fmt.Sprintf("found=%t x=%.0f y=%.0f", st.Tick.Observation.Found, st.Tick.Observation.X, st.Tick.Observation.Y)},
		{"frame", fmt.Sprintf("roll=%.2f pitch=%.2f yaw=%.2f thrust=%d", st.Tick.Frame.Roll, st.Tick.Frame.Pitch, st.Tick.Frame.YawRate, st.Tick.Frame.Thrust)},
	}
	_, _ = fmt.Fprint(w, `<!doctype html><html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>hoverhold</title></head><body><h1>hoverhold</h1><table>`)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "<tr><th align=left>%s</th><td><code>%s</code></td></tr>", html.EscapeString(row[0]), html.EscapeString(row[1]))
	}
	_, _ = fmt.Fprint(w, `</table><p><a href="/api/status">/api/status</a> <a href="/api/gains">/api/gains</a> <a href="/api/logs?format=text">/api/logs</a></p></body></html>`)
}

type gainsResponse struct {
	Gains  map[string]control.Gains `json:"gains"`
	Queued []string                 `json:"queued,omitempty"`
}

// gainsHandler reports the gains in effect (GET) and queues replacements
// (POST, a JSON object of loop name to gains). A POST is all-or-nothing:
// every entry is validated before any is queued.
func gainsHandler(loop Loop) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, gainsResponse{Gains: loop.Gains()})
		case http.MethodPost:
			var in map[string]control.Gains
			dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
				return
			}
			if len(in) == 0 {
				http.Error(w, "no gains given", http.StatusBadRequest)
				return
			}
			names := make([]string, 0, len(in))
			for name, g := range in {
				if !knownLoop(name) {
					http.Error(w, fmt.Sprintf("unknown loop %q", name), http.StatusBadRequest)
					return
				}
				if err := g.Validate(); err != nil {
					http.Error(w, fmt.Sprintf("%s: %v", name, err), http.StatusBadRequest)
					return
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if err := loop.TuneAll(in); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusAccepted, gainsResponse{Gains: loop.Gains(), Queued: names})
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func knownLoop(name string) bool {
	for _, n := range station.LoopNames() {
		if n == name {
			return true
		}
	}
	return false
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
