package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

const helperEnv = "SLICEPDF_BACKEND_HELPER"

// TestHelperProcess is not a real test. The manager tests start the test binary
// with helperEnv set and talk to this loop as if it were the engine.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	write := func(v any) {
		data, _ := json.Marshal(v)
		out.Write(append(data, '\n'))
		out.Flush()
	}
	for in.Scan() {
		var req struct {
			ID     int             `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			continue
		}
		switch req.Method {
		case "crash":
			os.Exit(0)
		case "hang":
			continue
		case "fail":
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{
				"code": -32000, "message": "wrong password", "data": map[string]any{"error_code": "DECRYPT_FAILED"},
			}})
		case CmdPDFToImage:
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": nil})
			write(map[string]any{"jsonrpc": "2.0", "method": EventPDFToImage, "params": "Converted 2 pages"})
		case CmdDecryptPDF:
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"TempPath": map[string]any{"path": "/tmp/x.pdf"}}})
		default:
			fmt.Fprintln(os.Stderr, `{"level":"info","message":"engine.call","method":"`+req.Method+`"}`)
			write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"ok": true, "engine": "helper"}})
		}
	}
	os.Exit(0)
}

func newHelperManager(t *testing.T) *Manager {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("executable: %v", err)
	}
	mgr := New(Options{
		Path: exe,
		Args: []string{"-test.run=^TestHelperProcess$"},
		Env:  []string{helperEnv + "=1"},
	})
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestManagerCallAndHealthCheck(t *testing.T) {
	mgr := newHelperManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.HealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}
	var result DecryptResult
	if err := mgr.Call(ctx, CmdDecryptPDF, DecryptPayload{InputPath: "/in.pdf", Password: "pw", Temp: true}, &result); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if result.TempPath != "/tmp/x.pdf" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if status := mgr.Status(); status["running"] != true {
		t.Fatalf("expected running engine, got %v", status)
	}
}

func TestManagerMapsRemoteErrors(t *testing.T) {
	mgr := newHelperManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := mgr.Call(ctx, "fail", map[string]any{}, nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Code != "DECRYPT_FAILED" || remote.Message != "wrong password" {
		t.Fatalf("unexpected remote error: %+v", remote)
	}
}

func TestManagerRestartOnCrash(t *testing.T) {
	mgr := newHelperManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Call(ctx, CmdGetInfo, map[string]any{}, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	crashCtx, crashCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer crashCancel()
	if err := mgr.Call(crashCtx, "crash", map[string]any{}, nil); err == nil {
		t.Fatalf("expected crash error")
	}
	if err := mgr.Call(ctx, CmdGetInfo, map[string]any{}, nil); err != nil {
		t.Fatalf("expected restart, got %v", err)
	}
}

func TestManagerCallTimeout(t *testing.T) {
	mgr := newHelperManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := mgr.Call(ctx, "hang", map[string]any{}, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestManagerDeliversEventsToSubscribers(t *testing.T) {
	mgr := newHelperManager(t)
	events, unsubscribe := mgr.Subscribe(EventPDFToImage, EventPDFToImageError)
	defer unsubscribe()
	other, unsubscribeOther := mgr.Subscribe(EventImageToPDFDone)
	defer unsubscribeOther()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Call(ctx, CmdPDFToImage, PDFToImagePayload{InputPath: "/in.pdf", Format: "png"}, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Name != EventPDFToImage || ev.Payload != "Converted 2 pages" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
	select {
	case ev := <-other:
		t.Fatalf("unrelated subscriber got %+v", ev)
	default:
	}
}

func TestManagerUnavailableWithoutEngine(t *testing.T) {
	t.Setenv(pathEnv, "")
	mgr := New(Options{Path: "/nonexistent/slicepdf-backend"})
	defer mgr.Close()
	if err := mgr.Call(context.Background(), CmdGetInfo, nil, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newHub(nil)
	_, unsubscribe := h.subscribe("x")
	if h.subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	unsubscribe()
	unsubscribe()
	if h.subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestHubHandsEachSignalToOneWaiter(t *testing.T) {
	h := newHub(nil)
	first, unsubscribeFirst := h.subscribe(EventPDFToImage, EventPDFToImageError)
	defer unsubscribeFirst()
	second, unsubscribeSecond := h.subscribe(EventPDFToImage, EventPDFToImageError)
	defer unsubscribeSecond()

	h.publish(Event{Name: EventPDFToImage, Payload: "converted a.pdf"})
	select {
	case ev := <-first:
		if ev.Payload != "converted a.pdf" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected the oldest waiter to get the signal")
	}
	select {
	case ev := <-second:
		t.Fatalf("signal delivered twice, second waiter got %+v", ev)
	default:
	}

	unsubscribeFirst()
	h.publish(Event{Name: EventPDFToImage, Payload: "converted b.pdf"})
	select {
	case ev := <-second:
		if ev.Payload != "converted b.pdf" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected the remaining waiter to get the next signal")
	}
}
