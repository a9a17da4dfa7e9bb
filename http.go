package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var (
	globalTimeout = 30
)

type Request struct {
	Method      string
	URL         string
	QueryParams url.Values
	Body        io.Reader
	Headers     map[string]string
}

type ResponseResult struct {
	Response *http.Response
	Error    error
	Body     []byte
}

func sendRequest(ctx context.Context, method, url string, queryParams url.Values, headers map[string]string, body io.Reader, timeout ...int) (*http.Response, error) {
	// Get timeout value, if passed, or use the configured default
	t := globalTimeout
	if len(timeout) > 0 {
		t = timeout[0]
	}

	client := http.Client{
		Timeout: time.Duration(t) * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	// Set query parameters if provided
	if queryParams != nil {
		req.URL.RawQuery = queryParams.Encode()
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var respBody []byte
	var err error

	// Read the body and set up a defer to close the body to avoid
	// leaking resources.
	defer resp.Body.Close()

	// Check for gzipped "Content-Encoding" header
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("error creating gzip reader: %s", err)
		}
		defer gzipReader.Close()

		respBody, err = io.ReadAll(gzipReader)
		if err != nil {
			return nil, fmt.Errorf("error reading decompressed data: %s", err)
		}
	} else {
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %s", err)
		}
	}
	return respBody, nil
}

// splitRequest fans a lookback query out into one GET per time window, each
// bounded on paramName.
func splitRequest(api, paramName string, split, lookback int, queryParams url.Values, headers map[string]string) []Request {

	var requestList = []Request{}

	windows := createTimeWindows(split, lookback)

	for _, window := range windows {
		// Create a local copy of query parameters
		queryParamsLocal := url.Values{}
		for key, values := range queryParams {
			queryParamsLocal[key] = append([]string{}, values...)
		}
		addDateParam(window, paramName, &queryParamsLocal)
		request := Request{
			Method:      "GET",
			URL:         api,
			QueryParams: queryParamsLocal,
			Body:        nil,
			Headers:     headers,
		}
		requestList = append(requestList, request)
	}

	return requestList
}

func sendAll(ctx context.Context, requestList []Request, headers map[string]string, responseResults chan<- ResponseResult, wg *sync.WaitGroup) {

	// Iterate over requests and send in parallel
	for _, request := range requestList {
		wg.Add(1)

		go func(request Request, headers map[string]string) {
			defer wg.Done()

			resp, err := sendRequest(ctx, request.Method, request.URL, request.QueryParams, headers, request.Body)

			// Send response or error back to channel
			responseResults <- ResponseResult{Response: resp, Error: err}
		}(request, headers)
	}
}

func (pr *ProtocolRequest) processResults(responseResults chan ResponseResult) ([]ResponseResult, error) {
	// Boolean to store if an error occurred during any transaction
	var isError bool
	var responses []ResponseResult

	// Process results as they arrive
	for result := range responseResults {
		if result.Error != nil {
			isError = true
			logger(pr.Context.RequestContext, fmt.Errorf("%v (patient: %s)", result.Error, pr.Context.PatientId))
			continue
		}
		response := result.Response

		var err error
		result.Body, err = readBody(response)
		if err != nil {
			isError = true
			logger(pr.Context.RequestContext, fmt.Errorf("%v (patient: %s)", err, pr.Context.PatientId))
			continue
		}

		if response.StatusCode >= 400 {
			isError = true
			logger(pr.Context.RequestContext, fmt.Errorf("request %s failed (%d): %s (context: %s)", response.Request.URL, response.StatusCode, string(result.Body), pr.Context.Body))
		} else {
			responses = append(responses, result)
		}
	}

	if isError {
		return nil, fmt.Errorf("error retrieving patient data")
	}
	return responses, nil
}

func (pr *ProtocolRequest) sendAndProcess(requestList []Request, headers map[string]string) error {
	var subWg sync.WaitGroup

	responseCh := make(chan ResponseResult, len(requestList))

	sendAll(pr.Context.RequestContext, requestList, headers, responseCh, &subWg)

	// Close channel once all goroutines are finished
	go func() {
		subWg.Wait()
		close(responseCh)
	}()

	responses, err := pr.processResults(responseCh)
	if err != nil {
		return err
	}

	// Parse response into FHIR structs
	for _, result := range responses {
		if err := pr.processFHIRResponse(result.Body); err != nil {
			logger(pr.Context.RequestContext, fmt.Errorf("%v (patient: %s)", err, pr.Context.PatientId))
			return err
		}
	}

	return nil
}
