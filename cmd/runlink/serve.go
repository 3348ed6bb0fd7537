package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/runlink/editor"
	"github.com/caffeineduck/runlink/export"
	"github.com/caffeineduck/runlink/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server exposing editors as resources",
	Long: `Start an HTTP server that exposes editor instances over REST. All
editors share one push channel to the backend.

Endpoints:
  POST   /editors              Create editor, returns {"id":"..."}
  GET    /editors              List editors
  GET    /editors/{id}         Editor config, source and session
  PUT    /editors/{id}/source  Replace source {"source":"..."}
  POST   /editors/{id}/run     Run the source
  POST   /editors/{id}/input   Send input {"text":"..."}
  GET    /editors/{id}/export  Download code.<ext>
  DELETE /editors/{id}         Remove editor
  GET    /health               Health check`,
	Args:         cobra.NoArgs,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default :8080)")
	serveCmd.Flags().Duration("ttl", 15*time.Minute, "Idle time before created editors are removed")
	serveCmd.Flags().StringSlice("instances", nil, "Editor instance ids created at startup (default 1,2,3)")
	rootCmd.AddCommand(serveCmd)
}

type server struct {
	ws  *workspace
	log zerolog.Logger
}

type sourceRequest struct {
	Source string `json:"source"`
}

type inputRequest struct {
	Text string `json:"text"`
}

type createEditorResponse struct {
	ID string `json:"id"`
}

type editorResponse struct {
	ID       string           `json:"id"`
	Language string           `json:"language"`
	Config   editor.Config    `json:"config"`
	Source   string           `json:"source"`
	Session  session.Snapshot `json:"session"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /editors", s.handleCreate)
	mux.HandleFunc("GET /editors", s.handleList)
	mux.HandleFunc("GET /editors/{id}", s.handleGet)
	mux.HandleFunc("PUT /editors/{id}/source", s.handleSource)
	mux.HandleFunc("POST /editors/{id}/run", s.handleRun)
	mux.HandleFunc("POST /editors/{id}/input", s.handleInput)
	mux.HandleFunc("GET /editors/{id}/export", s.handleExport)
	mux.HandleFunc("DELETE /editors/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps manager errors onto HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownInstance):
		http.Error(w, "editor not found", http.StatusNotFound)
	case errors.Is(err, session.ErrNotStreaming), errors.Is(err, session.ErrSuperseded):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *server) editor(id string) (editorResponse, error) {
	buf, ok := s.ws.get(id)
	if !ok {
		return editorResponse{}, fmt.Errorf("%w: %s", session.ErrUnknownInstance, id)
	}
	snap, err := s.ws.manager.Snapshot(id)
	if err != nil {
		return editorResponse{}, err
	}
	return editorResponse{
		ID:       id,
		Language: buf.Language().Name(),
		Config:   buf.Config(),
		Source:   buf.Text(),
		Session:  snap,
	}, nil
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, editor.DefaultMaxSize)).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	if _, err := s.ws.create(id, req.Source); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("editor", id).Msg("editor created")
	writeJSON(w, http.StatusCreated, createEditorResponse{ID: id})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	ids := s.ws.ids()
	editors := make([]editorResponse, 0, len(ids))
	for _, id := range ids {
		e, err := s.editor(id)
		if err != nil {
			continue
		}
		editors = append(editors, e)
	}
	writeJSON(w, http.StatusOK, editors)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.editor(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) handleSource(w http.ResponseWriter, r *http.Request) {
	buf, ok := s.ws.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "editor not found", http.StatusNotFound)
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, editor.DefaultMaxSize)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	buf.SetText(req.Source)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ws.run(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.ws.manager.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, editor.DefaultMaxSize)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.ws.manager.SubmitInput(r.Context(), r.PathValue("id"), req.Text); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	buf, ok := s.ws.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "editor not found", http.StatusNotFound)
		return
	}
	if err := export.WriteAttachment(w, buf.Language(), buf.Text()); err != nil {
		s.log.Warn().Err(err).Str("editor", r.PathValue("id")).Msg("export download failed")
	}
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ws.remove(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info().Str("editor", id).Msg("editor removed")
	w.WriteHeader(http.StatusNoContent)
}

// cleanup removes idle editors until ctx is done.
func (s *server) cleanup(ctx context.Context, ttl, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.ws.expire(ttl) {
				s.log.Info().Str("editor", id).Dur("ttl", ttl).Msg("editor expired")
			}
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Serve.Addr = addr
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")

	lang, _ := cmd.Flags().GetString("lang")
	language, err := getLanguage(lang, "", cfg.Language)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, language, cfg.Instances)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := &server{
		ws:  newWorkspace(language, rt.manager),
		log: rt.log.With().Str("component", "serve").Logger(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go srv.cleanup(ctx, ttl, time.Minute)

	httpSrv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info().Str("addr", cfg.Serve.Addr).Msg("runlink server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
