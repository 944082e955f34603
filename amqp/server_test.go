package amqp_test

import (
	"context"
	"encoding/json"
	"errors"
	bamqp "github.com/jt05610/benchtop/amqp"
	"github.com/jt05610/benchtop/dispatch"
	"github.com/jt05610/benchtop/gcode"
	"github.com/jt05610/benchtop/marlin"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap/zaptest"
	"testing"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakePublisher struct {
	out []published
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.out = append(f.out, published{key: key, msg: msg})
	return nil
}

type fakeDriver struct {
	name   string
	params gcode.Params
	err    error
}

func (f *fakeDriver) Send(_ context.Context, name string, params gcode.Params) error {
	f.name, f.params = name, params
	return f.err
}

func (f *fakeDriver) GetPosition(context.Context) (marlin.Position, error) {
	return marlin.Position{X: 1, Y: 2, Z: 3}, nil
}

func (f *fakeDriver) Estimate() (dispatch.Estimate, bool) {
	return dispatch.Estimate{Position: marlin.Position{Z: 50}}, true
}

func delivery(key, id, body string) amqp.Delivery {
	return amqp.Delivery{
		RoutingKey: key,
		Headers:    amqp.Table{"x-event-id": id},
		Body:       []byte(body),
	}
}

func decode(t *testing.T, p published, v any) {
	t.Helper()
	if err := json.Unmarshal(p.msg.Body, v); err != nil {
		t.Fatal(err)
	}
}

func TestHandleCommand(t *testing.T) {
	pub := &fakePublisher{}
	drv := &fakeDriver{}
	s := bamqp.NewServer(pub, "benchtop", "bench", drv, zaptest.NewLogger(t))
	err := s.Handle(context.Background(), delivery("bench.commands.move", "42", `{"X": 10, "F": 1500}`))
	if err != nil {
		t.Fatal(err)
	}
	if drv.name != "move" || drv.params["X"] != 10.0 {
		t.Fatalf("unexpected dispatch %s %v", drv.name, drv.params)
	}
	if len(pub.out) != 1 || pub.out[0].key != "bench.events.move" {
		t.Fatalf("unexpected publishings %+v", pub.out)
	}
	if pub.out[0].msg.Headers["x-event-id"] != "42" {
		t.Fatalf("expected event id header, got %v", pub.out[0].msg.Headers)
	}
	var res bamqp.Result
	decode(t, pub.out[0], &res)
	if !res.OK || res.Outcome != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandleCommandFailure(t *testing.T) {
	pub := &fakePublisher{}
	drv := &fakeDriver{err: dispatch.ErrWaitTimeout}
	s := bamqp.NewServer(pub, "benchtop", "bench", drv, zaptest.NewLogger(t))
	if err := s.Handle(context.Background(), delivery("bench.commands.home_all", "", "")); err != nil {
		t.Fatal(err)
	}
	var res bamqp.Result
	decode(t, pub.out[0], &res)
	if res.OK || res.Outcome != "timeout" || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandlePosition(t *testing.T) {
	pub := &fakePublisher{}
	s := bamqp.NewServer(pub, "benchtop", "bench", &fakeDriver{}, zaptest.NewLogger(t))
	if err := s.Handle(context.Background(), delivery("bench.commands.get_position", "", "")); err != nil {
		t.Fatal(err)
	}
	var res bamqp.Result
	decode(t, pub.out[0], &res)
	if res.Position == nil || res.Position.Z != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandleState(t *testing.T) {
	pub := &fakePublisher{}
	s := bamqp.NewServer(pub, "benchtop", "bench", &fakeDriver{}, zaptest.NewLogger(t))
	if err := s.Handle(context.Background(), delivery("bench.state.get", "", "")); err != nil {
		t.Fatal(err)
	}
	if pub.out[0].key != "bench.state.current" {
		t.Fatalf("unexpected key %s", pub.out[0].key)
	}
	var st bamqp.State
	decode(t, pub.out[0], &st)
	if !st.Known || st.Confirmed || st.Position.Z != 50 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestHandleRejects(t *testing.T) {
	pub := &fakePublisher{}
	drv := &fakeDriver{}
	s := bamqp.NewServer(pub, "benchtop", "bench", drv, zaptest.NewLogger(t))
	ctx := context.Background()
	if err := s.Handle(ctx, delivery("bench.move", "", "")); !errors.Is(err, bamqp.ErrRoutingKey) {
		t.Fatalf("expected ErrRoutingKey, got %v", err)
	}
	if err := s.Handle(ctx, delivery("bench.commands.move", "", "{")); err == nil {
		t.Fatal("expected a decode error")
	}
	if err := s.Handle(ctx, delivery("other.commands.move", "", "")); err != nil {
		t.Fatal(err)
	}
	if drv.name != "" || len(pub.out) != 0 {
		t.Fatalf("expected nothing dispatched, got %s and %d publishings", drv.name, len(pub.out))
	}
}
