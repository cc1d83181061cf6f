package portal

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/cuemby/boxlite/internal/boxliteapi"
	"github.com/cuemby/boxlite/pkg/boxerr"
	"github.com/cuemby/boxlite/pkg/metrics"
)

// Method names double as the gRPC full method path; there is no .proto
// service registry behind them since messages are hand-rolled JSON
// (internal/boxliteapi), so these strings ARE the contract.
const (
	methodPing            = "/boxlite.Guest/Ping"
	methodShutdown        = "/boxlite.Guest/Shutdown"
	methodStartContainer  = "/boxlite.Container/Start"
	methodContainerStatus = "/boxlite.Container/Status"
	methodExec            = "/boxlite.Execution/Exec"
	methodExecIO          = "/boxlite.Execution/IO"
	methodExecWait        = "/boxlite.Execution/Wait"
)

// GuestSession is a typed client over one box's Connection, implementing
// the Guest, Container, and Execution services spec.md §4.6 describes.
type GuestSession struct {
	conn *Connection
}

func NewGuestSession(conn *Connection) *GuestSession {
	return &GuestSession{conn: conn}
}

func (s *GuestSession) invoke(ctx context.Context, method string, req, resp interface{}) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCDuration, serviceOf(method), method)

	cc, err := s.conn.Get(ctx)
	if err != nil {
		return err
	}
	if err := cc.Invoke(ctx, method, req, resp); err != nil {
		return boxerr.Newf(boxerr.KindEngine, err, "rpc %s", method)
	}
	return nil
}

func serviceOf(method string) string {
	for i := len(method) - 1; i >= 0; i-- {
		if method[i] == '/' {
			return method[1:i]
		}
	}
	return method
}

// Ping checks guest liveness with a short deadline.
func (s *GuestSession) Ping(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var resp boxliteapi.PingResponse
	if err := s.invoke(ctx, methodPing, &boxliteapi.PingRequest{}, &resp); err != nil {
		return false, err
	}
	return resp.Ready, nil
}

// Shutdown asks the guest to stop its container and power off, allowing
// graceSeconds for the container to exit on its own first.
func (s *GuestSession) Shutdown(ctx context.Context, graceSeconds int) error {
	var resp boxliteapi.ShutdownResponse
	return s.invoke(ctx, methodShutdown, &boxliteapi.ShutdownRequest{GraceSeconds: graceSeconds}, &resp)
}

// StartContainer execs the resolved entrypoint inside the guest.
func (s *GuestSession) StartContainer(ctx context.Context, req boxliteapi.StartContainerRequest) (int, error) {
	var resp boxliteapi.StartContainerResponse
	if err := s.invoke(ctx, methodStartContainer, &req, &resp); err != nil {
		return 0, err
	}
	return resp.PID, nil
}

// ContainerStatus reports whether the container is still running.
func (s *GuestSession) ContainerStatus(ctx context.Context) (boxliteapi.ContainerStatusResponse, error) {
	var resp boxliteapi.ContainerStatusResponse
	err := s.invoke(ctx, methodContainerStatus, &boxliteapi.ContainerStatusRequest{}, &resp)
	return resp, err
}

// Execution is a live command running inside the guest: Stdin accepts
// writes, Output delivers interleaved stdout/stderr chunks, and Wait
// resolves once the process exits.
type Execution struct {
	ExecID string
	Stdin  chan<- []byte
	Output <-chan boxliteapi.ExecIOChunk

	stream grpc.ClientStream
	done   chan struct{}
	result boxliteapi.ExecWaitResponse
	err    error
}

// Exec starts a command inside the running container and wires up the
// three goroutines spec.md §4.6 calls for: one pumping stdin chunks onto
// the stream, one fanning attach output out to Output, and one blocking
// on Wait to resolve the exit code. Exec itself does not block past
// stream setup.
func (s *GuestSession) Exec(ctx context.Context, req boxliteapi.ExecRequest) (*Execution, error) {
	cc, err := s.conn.Get(ctx)
	if err != nil {
		return nil, err
	}

	streamDesc := &grpc.StreamDesc{StreamName: "IO", ServerStreams: true, ClientStreams: true}
	stream, err := cc.NewStream(ctx, streamDesc, methodExecIO)
	if err != nil {
		return nil, boxerr.Newf(boxerr.KindEngine, err, "open exec stream")
	}

	var startResp boxliteapi.ExecResponse
	if err := s.invoke(ctx, methodExec, &req, &startResp); err != nil {
		return nil, err
	}
	if !startResp.Accepted {
		return nil, boxerr.Newf(boxerr.KindGuest, nil, "guest rejected exec %s", req.ExecID)
	}

	stdin := make(chan []byte, 16)
	output := make(chan boxliteapi.ExecIOChunk, 16)
	e := &Execution{ExecID: req.ExecID, Stdin: stdin, Output: output, stream: stream, done: make(chan struct{})}

	go pumpStdin(stream, req.ExecID, stdin)
	go fanoutOutput(stream, output)
	go e.waitLoop(ctx, cc)

	metrics.ExecutionsTotal.WithLabelValues("started").Inc()
	return e, nil
}

func pumpStdin(stream grpc.ClientStream, execID string, stdin <-chan []byte) {
	for data := range stdin {
		chunk := boxliteapi.ExecIOChunk{ExecID: execID, Stream: "stdin", Data: data}
		if err := stream.SendMsg(&chunk); err != nil {
			return
		}
	}
	stream.SendMsg(&boxliteapi.ExecIOChunk{ExecID: execID, Stream: "stdin", Closed: true})
}

func fanoutOutput(stream grpc.ClientStream, output chan<- boxliteapi.ExecIOChunk) {
	defer close(output)
	for {
		var chunk boxliteapi.ExecIOChunk
		if err := stream.RecvMsg(&chunk); err != nil {
			return
		}
		output <- chunk
		if chunk.Closed {
			return
		}
	}
}

func (e *Execution) waitLoop(ctx context.Context, cc *grpc.ClientConn) {
	defer close(e.done)
	var resp boxliteapi.ExecWaitResponse
	err := cc.Invoke(ctx, methodExecWait, &boxliteapi.ExecWaitRequest{ExecID: e.ExecID}, &resp)
	if err != nil {
		e.err = boxerr.Newf(boxerr.KindEngine, err, "wait exec %s", e.ExecID)
		metrics.ExecutionsTotal.WithLabelValues("error").Inc()
		return
	}
	e.result = resp
	metrics.ExecutionsTotal.WithLabelValues("exited").Inc()
}

// Wait blocks until the execution's exit code is known.
func (e *Execution) Wait(ctx context.Context) (boxliteapi.ExecWaitResponse, error) {
	select {
	case <-e.done:
		return e.result, e.err
	case <-ctx.Done():
		return boxliteapi.ExecWaitResponse{}, ctx.Err()
	}
}
