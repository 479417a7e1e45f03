package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	"github.com/tonycerq/tonycerq-comfyui/manager/jobs"
	"github.com/tonycerq/tonycerq-comfyui/manager/source"
	"github.com/tonycerq/tonycerq-comfyui/model"
)

const (
	// query parameter keys
	_since = "since"
	// path variables
	_source = "source"
	_id     = "id"
)

type restAPI struct {
	manager *manager
	router  *mux.Router
}

type serverInfo struct {
	ProxyURL    string `json:"proxy_url"`
	JupyterURL  string `json:"jupyter_url"`
	IsRunPod    bool   `json:"is_runpod"`
	TotalModels int    `json:"total_models"`
	LastLine    uint64 `json:"last"`
	Buffered    int    `json:"buffered"`
	Subscribers int    `json:"subscribers"`
}

func newRESTAPI(manager *manager) *restAPI {
	a := &restAPI{
		manager: manager,
	}
	a.setupRouter()
	return a
}

func (a *restAPI) handler() http.Handler {
	chain := alice.New(
		recoveryMiddleware,
		loggingMiddleware,
		cors.AllowAll().Handler,
	)
	return chain.Then(a.router)
}

// startRESTAPI serves until ctx is done
func startRESTAPI(ctx context.Context, bindAddr string, manager *manager) error {
	server := &http.Server{
		Addr:    bindAddr,
		Handler: newRESTAPI(manager).handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logrus.Infoln("restapi: binding to", bindAddr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *restAPI) setupRouter() {
	r := mux.NewRouter()

	r.HandleFunc("/", a.index).Methods(http.MethodGet)
	// logs
	r.HandleFunc("/logs", a.getLogs).Methods(http.MethodGet)
	// inventory
	r.HandleFunc("/api/models", a.getModels).Methods(http.MethodGet)
	r.HandleFunc("/api/custom-nodes", a.getCustomNodes).Methods(http.MethodGet)
	// jobs
	r.HandleFunc("/api/jobs", a.getJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", a.getJob).Methods(http.MethodGet)
	r.HandleFunc("/download/outputs", a.downloadOutputs).Methods(http.MethodGet)
	r.HandleFunc("/download/{source}", a.download).Methods(http.MethodPost)
	// health
	r.HandleFunc("/health", a.getHealth).Methods(http.MethodGet)

	// websocket
	r.HandleFunc("/ws", a.websocket)

	a.router = r
}

func (a *restAPI) index(w http.ResponseWriter, r *http.Request) {
	info := serverInfo{
		LastLine:    a.manager.lastSeq(),
		Buffered:    a.manager.lines.Len(),
		Subscribers: a.manager.events.Len(),
	}
	if pod := a.manager.conf.PodID; pod != "" {
		info.IsRunPod = true
		info.ProxyURL = fmt.Sprintf("https://%s-%d.proxy.runpod.net", pod, appPort)
		info.JupyterURL = fmt.Sprintf("https://%s-%d.proxy.runpod.net", pod, jupyterPort)
	} else {
		host := r.Host
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		}
		info.ProxyURL = fmt.Sprintf("http://%s:%d", host, appPort)
		info.JupyterURL = fmt.Sprintf("http://%s:%d", host, jupyterPort)
	}

	models, err := installedModels(a.manager.conf)
	if err != nil {
		logrus.Warnf("restapi: error listing models: %s", err)
	}
	info.TotalModels = countModels(models)

	b, err := json.Marshal(&info)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, http.StatusOK, b)
}

func (a *restAPI) getLogs(w http.ResponseWriter, r *http.Request) {
	var lines []model.LogLine
	if s := r.URL.Query().Get(_since); s != "" {
		since, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			HTTPResponseError(w, http.StatusBadRequest, "error parsing ", _since, " query parameter: ", err)
			return
		}
		lines = a.manager.lines.Since(since)
	} else {
		lines = a.manager.lines.Collect()
	}

	res := model.Snapshot{
		Logs:  renderLogs(a.manager.lines.Collect(), a.manager.now()),
		Lines: lines,
		Last:  a.manager.lastSeq(),
		Jobs:  a.manager.jobs.Snapshot(),
	}
	b, err := json.Marshal(&res)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, http.StatusOK, b)
}

// renderLogs formats the buffered lines as escaped markup under a header.
// Repeated consecutive lines are shown once.
func renderLogs(lines []model.LogLine, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<div class='log-line'><span class='log-timestamp'>%s</span><span class='log-info'>Dashboard - Last %d lines</span></div>\n",
		now.Format(model.TimeLayout), len(lines))
	if len(lines) == 0 {
		sb.WriteString("<div class='log-line'><span class='log-info'>No logs yet.</span></div>")
		return sb.String()
	}
	var prev string
	for i, line := range lines {
		if i > 0 && line.Text == prev {
			continue
		}
		prev = line.Text
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("<div class='log-line'>" + line.HTML() + "</div>")
	}
	return sb.String()
}

func (a *restAPI) getModels(w http.ResponseWriter, r *http.Request) {
	models, err := installedModels(a.manager.conf)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	b, err := json.Marshal(models)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, http.StatusOK, b)
}

func (a *restAPI) getCustomNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := installedNodes(a.manager.conf)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	b, err := json.Marshal(nodes)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, http.StatusOK, b)
}

func (a *restAPI) getJobs(w http.ResponseWriter, r *http.Request) {
	b, err := json.Marshal(a.manager.jobs.Snapshot())
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, http.StatusOK, b)
}

func (a *restAPI) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)[_id]

	job, found := a.manager.jobs.Get(id)
	if !found {
		HTTPResponseError(w, http.StatusNotFound, id+" is not found!")
		return
	}
	b, err := json.Marshal(&job)
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	HTTPResponse(w, http.StatusOK, b)
}

func (a *restAPI) download(w http.ResponseWriter, r *http.Request) {
	src, err := model.ParseJobSource(mux.Vars(r)[_source])
	if err != nil {
		HTTPResponseError(w, http.StatusBadRequest, err)
		return
	}

	var req source.Request
	decoder := json.NewDecoder(r.Body)
	defer r.Body.Close()
	if err := decoder.Decode(&req); err != nil {
		HTTPResponseError(w, http.StatusBadRequest, "error parsing request body: ", err)
		return
	}
	if err := req.Validate(); err != nil {
		HTTPResponseError(w, http.StatusBadRequest, err)
		return
	}

	job, err := a.manager.executor.Submit(src, req)
	if errors.Is(err, jobs.ErrSourceBusy) {
		HTTPResponseError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *restAPI) downloadOutputs(w http.ResponseWriter, r *http.Request) {
	b, err := zipOutputs(a.manager.conf.OutputDir())
	if err != nil {
		HTTPResponseError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+outputsFilename(a.manager.now()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		logrus.Errorf("restapi: error writing outputs: %s", err)
	}
}

func (a *restAPI) getHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK!"))
}

// HTTPResponseError serializes and writes an error response
//	If no message is provided, the status text will be set as the message
func HTTPResponseError(w http.ResponseWriter, code int, message ...interface{}) {
	if len(message) == 0 {
		message = make([]interface{}, 1)
		message[0] = http.StatusText(code)
	}
	logrus.Debugln("restapi: request error:", fmt.Sprint(message...))
	body, _ := json.Marshal(&map[string]string{
		"error": fmt.Sprint(message...),
	})
	HTTPResponse(w, code, body)
}

// HTTPResponse writes a response
func HTTPResponse(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err := w.Write(body)
	if err != nil {
		logrus.Errorf("restapi: error writing response: %s", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		nw := negroni.NewResponseWriter(w)
		next.ServeHTTP(nw, r)
		logrus.Debugf("\"%s %s %s\" %d %d %v", r.Method, r.URL.String(), r.Proto, nw.Status(), nw.Size(), time.Since(start))
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("PANIC: %v\n%s", r, debug.Stack())
				HTTPResponseError(w, 500, r)
			}
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
