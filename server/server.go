package server

import (
	"crypto/tls"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/negroni"
	"golang.org/x/crypto/acme/autocert"

	"github.com/pendo/climate-assistant/handlers"
	"github.com/pendo/climate-assistant/services/llm_service"
)

type Deps struct {
	DB        *pgxpool.Pool
	Auth      handlers.Authenticator
	Queue     handlers.Queue
	Embedder  handlers.QueryEmbedder
	Retriever handlers.Retriever
	Resumes   handlers.ResumeReader
	LLM       llm_service.LLMService
	Logger    *slog.Logger
}

func SetupRoutes(d Deps) *mux.Router {
	r := mux.NewRouter()

	processHandler := handlers.NewProcessHandler(d.Queue, d.Auth, d.Logger)
	r.HandleFunc("/process", processHandler.ProcessDocument).Methods("POST")
	r.HandleFunc("/batch", processHandler.BatchProcess).Methods("POST")

	resumeHandler := handlers.NewResumeHandler(d.Queue, d.Auth, d.Resumes, d.Embedder, d.Retriever, d.Logger)
	r.HandleFunc("/resume/upload", resumeHandler.Upload).Methods("POST")
	r.HandleFunc("/resume/search", resumeHandler.Search).Methods("GET")
	r.HandleFunc("/resume/{user_id}", resumeHandler.Get).Methods("GET")

	jobsHandler := handlers.NewJobsHandler(d.Queue, d.Auth, d.Logger)
	r.HandleFunc("/status/{job_id}", jobsHandler.Status).Methods("GET")
	r.HandleFunc("/jobs", jobsHandler.List).Methods("GET")

	chatHandler := handlers.NewChatHandler(d.Auth, d.Embedder, d.Retriever, d.LLM, d.Logger)
	r.HandleFunc("/chat", chatHandler.Chat).Methods("POST")

	healthHandler := handlers.NewHealthHandler(d.DB, d.Queue, d.Logger)
	r.HandleFunc("/health", healthHandler.Health).Methods("GET")

	return r
}

// ServeProduction terminates TLS with certificates obtained through ACME.
// Port 80 only answers challenges and redirects to HTTPS.
func ServeProduction(n *negroni.Negroni, domains []string, certCacheDir string) {
	autocertManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(certCacheDir),
	}

	go func() {
		srv := &http.Server{
			Addr:         ":80",
			Handler:      autocertManager.HTTPHandler(nil),
			IdleTimeout:  time.Minute,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		err := srv.ListenAndServe()
		log.Fatal(err)
	}()

	tlsConfig := &tls.Config{
		GetCertificate:           autocertManager.GetCertificate,
		PreferServerCipherSuites: true,
		CurvePreferences:         []tls.CurveID{tls.X25519, tls.CurveP256},
	}

	// Write timeout has to cover slow LLM completions on /chat.
	srv := &http.Server{
		Addr:         ":443",
		Handler:      n,
		TLSConfig:    tlsConfig,
		IdleTimeout:  time.Minute,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}

	err := srv.ListenAndServeTLS("", "")
	log.Fatal(err)
}

func ServeDevelopment(s *http.Server) {
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
