package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jxucoder/refactorgen/model"
)

// apiError is returned for non-2xx responses.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

func apiCall(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, serverURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: refactorgen serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

type runView struct {
	Run    *model.Run    `json:"run"`
	Report *model.Report `json:"report"`
}

func fetchRun(ctx context.Context, id string) (*runView, error) {
	var v runView
	if err := apiCall(ctx, http.MethodGet, "/api/runs/"+id, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// streamEvents prints run events until the run is done or, without follow,
// until the stored history is exhausted.
func streamEvents(ctx context.Context, runID string, follow bool) error {
	path := "/api/runs/" + runID + "/events"
	if !follow {
		path += "?follow=false"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var event model.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if printEvent(event) {
			return nil
		}
	}
	return scanner.Err()
}

// printEvent writes one event and reports whether it ends the stream.
func printEvent(event model.Event) bool {
	switch event.Type {
	case "status":
		statusColor.Print("[status] ")
		fmt.Println(event.Data)
	case "state":
		var s struct {
			Seq   int    `json:"seq"`
			File  string `json:"file"`
			State string `json:"state"`
		}
		if json.Unmarshal([]byte(event.Data), &s) == nil {
			dimColor.Printf("  #%d %s → %s\n", s.Seq, s.File, s.State)
		}
	case "record":
		var rec model.StatusRecord
		if json.Unmarshal([]byte(event.Data), &rec) == nil {
			fmt.Printf("#%d %s  %s\n", rec.Seq, rec.Issue.FilePath, kindLabel(rec.Kind))
		}
	case "error":
		errorColor.Fprint(os.Stderr, "[error] ")
		fmt.Fprintln(os.Stderr, event.Data)
	case "done":
		fmt.Printf("\nRun finished: %s\n", statusIcon(model.RunStatus(event.Data)))
		return true
	}
	return false
}
