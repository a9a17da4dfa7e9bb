package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.elastic.co/apm"
	"go.elastic.co/apm/module/apmechov4"
	"go.elastic.co/apm/module/apmzap"
	"go.uber.org/zap"
)

var (
	zapLogger *zap.Logger
	appEnv    string
	appName   string
	apmActive bool
	elkUrl    string
)

func init() {

	// Set logging configuration
	var err error
	zapLogger, err = zap.NewProduction(zap.WrapCore((&apmzap.Core{}).WrapCore))
	if err != nil {
		log.Fatalf("Can't initialize zap logger: %v", err)
	}
}

func initAPM(e *echo.Echo) {
	// Close default Elastic APM tracer
	zapLogger.Info("Disable default APM logger")
	apm.DefaultTracer.Close()

	if !apmActive {
		return
	}

	// Create new tracer with basic options
	// Use environment variables for the remaining options
	zapLogger.Info("Creating new APM tracer",
		zap.String("ServiceName", appName),
		zap.String("ServiceEnvironment", appEnv))
	tracer, err := apm.NewTracerOptions(apm.TracerOptions{
		ServiceName:        appName,
		ServiceVersion:     appVersion,
		ServiceEnvironment: appEnv,
	})
	if err != nil {
		zapLogger.Fatal(err.Error())
	}

	// Adds elastic APM middleware to web server to capture requests
	// and send them to elastic
	zapLogger.Info("Enabling APM logger")
	e.Use(apmechov4.Middleware(apmechov4.WithTracer(tracer)))
}

func logger(c context.Context, err error) {
	zapLogger.Error(err.Error())
	if apmActive {
		apm.CaptureError(c, err).Send()
	}
}

func elkLogger(ctx context.Context, msg map[string]string, level string) error {
	// Set default level if none exists
	if level == "" {
		level = "debug"
	}

	// Sends logs to a test index, if not production
	index := appEnv
	if index != "prod" {
		index = "test"
	}

	msg["environment"] = index
	msg["level"] = level
	msg["date"] = time.Now().Format(time.RFC3339)

	bodyReader, err := readerFromMap(msg)
	if err != nil {
		return err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}

	resp, err := sendRequest(ctx, "POST", elkUrl, nil, headers, bodyReader, 5)
	if err != nil {
		return err
	}

	body, err := readBody(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("log message failed (Patient - %s, Status Code - %d): %s", msg["patientId"], resp.StatusCode, string(body))
	}

	return nil
}

// sendWebLog ships a workflow outcome to ELK without holding up the response.
// Nothing is sent when no ELK endpoint is configured.
func sendWebLog(fields map[string]string, msg string) {
	if elkUrl == "" {
		return
	}

	message := map[string]string{
		"application": appName,
		"msg":         msg,
	}
	for key, value := range fields {
		message[key] = value
	}

	// The request context ends with the response, so the goroutine gets its own
	go func() {
		ctx := context.Background()
		if err := elkLogger(ctx, message, "info"); err != nil {
			logger(ctx, fmt.Errorf("%v (msg: %s)", err, msg))
		}
	}()
}

// Creates a string reader from a map
func readerFromMap(m map[string]string) (*strings.Reader, error) {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(jsonBytes)), nil
}
