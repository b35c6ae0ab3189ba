package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"text/template"
	"time"
)

type Logging struct {
	mu       sync.Mutex
	config   *LogConfig
	file     *os.File
	logger   *log.Logger
	template *template.Template
}

type LogFormat struct {
	RemoteAddr     string
	TimeLocal      string
	RequestMethod  string
	RequestURI     string
	ServerProtocol string
	Status         int
	BodyBytesSent  int
	HttpReferer    string
	HttpUserAgent  string
	Listener       string
	RouteFrom      string
}

type LogConfig struct {
	Output   string
	Format   string
	Escape   string
	FilePath string
}

const defaultLogFormat = `{{.RemoteAddr}} [{{.TimeLocal}}] "{{.RequestMethod}} {{.RequestURI}} {{.ServerProtocol}}" {{.Status}} {{.BodyBytesSent}} "{{.HttpReferer}}" "{{.HttpUserAgent}}"`

func New(logconfig *LogConfig) (*Logging, error) {
	var err error
	logging := &Logging{config: logconfig}

	if err = logging.open(); err != nil {
		return nil, err
	}

	if logging.template, err = buildLogFormatTemplate(logconfig); err != nil {
		return nil, err
	}

	if logconfig.Escape != "" && logconfig.Escape != "json" {
		return nil, fmt.Errorf("log escape is invalid value: %s", logconfig.Escape)
	}

	return logging, nil
}

func (l *Logging) Write(lf LogFormat) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logger == nil {
		return nil
	}

	wr := new(bytes.Buffer)
	if err := l.template.Execute(wr, lf); err != nil {
		return err
	}

	line := wr.String()
	if l.config.Escape == "json" {
		b, err := json.Marshal(line)
		if err != nil {
			return err
		}
		line = string(b)
	}

	l.logger.Println(line)
	return nil
}

func (l *Logging) WriteHTTPLog(r *http.Request, listener, routeFrom string, status int, contentLength int) error {
	t := time.Now()
	lf := LogFormat{
		RemoteAddr:     r.RemoteAddr,
		TimeLocal:      t.Format("02/Jan/2006:15:04:05 -0700"),
		RequestMethod:  r.Method,
		RequestURI:     r.URL.RequestURI(),
		ServerProtocol: r.Proto,
		Status:         status,
		BodyBytesSent:  contentLength,
		HttpReferer:    r.Referer(),
		HttpUserAgent:  r.UserAgent(),
		Listener:       listener,
		RouteFrom:      routeFrom,
	}
	return l.Write(lf)
}

// Reopen reopens the log file, for use after logrotate moved it away.
func (l *Logging) Reopen() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	// On failure the previous file stays in use.
	prev := l.file
	if err := l.open(); err != nil {
		return err
	}
	return prev.Close()
}

func (l *Logging) open() error {
	var w io.Writer

	switch l.config.Output {
	case "stdout", "":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	case "discard":
		l.logger = nil
		return nil
	case "file":
		f, err := os.OpenFile(l.config.FilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		l.file = f
		w = f
	default:
		return fmt.Errorf("log output is invalid value: %s", l.config.Output)
	}

	l.logger = log.New(w, "", 0)
	return nil
}

func buildLogFormatTemplate(logconfig *LogConfig) (*template.Template, error) {
	format := logconfig.Format
	if len(format) == 0 {
		format = defaultLogFormat
	}

	return template.New("logformat").Parse(format)
}
