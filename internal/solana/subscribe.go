package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/sirupsen/logrus"
)

// ProgramAccountEvent is a push notification that an account owned by a
// program changed. It carries no signature; consumers look up recent
// signatures for the program themselves.
type ProgramAccountEvent struct {
	Program string
	Account string
	Slot    uint64
}

type Subscription interface {
	Unsubscribe()
}

// programStream is one open websocket subscription.
type programStream interface {
	Recv(ctx context.Context) (ProgramAccountEvent, error)
	Close()
}

type dialFunc func(ctx context.Context, wsURL, program string, pubkey sol.PublicKey) (programStream, error)

type wsProgramStream struct {
	program string
	conn    *ws.Client
	sub     *ws.ProgramSubscription
}

func (s *wsProgramStream) Recv(ctx context.Context) (ProgramAccountEvent, error) {
	for {
		got, err := s.sub.Recv(ctx)
		if err != nil {
			return ProgramAccountEvent{}, err
		}
		if got == nil {
			continue
		}
		return ProgramAccountEvent{
			Program: s.program,
			Account: got.Value.Pubkey.String(),
			Slot:    got.Context.Slot,
		}, nil
	}
}

func (s *wsProgramStream) Close() {
	s.sub.Unsubscribe()
	s.conn.Close()
}

func dialProgram(ctx context.Context, wsURL, program string, pubkey sol.PublicKey) (programStream, error) {
	conn, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sub, err := conn.ProgramSubscribe(pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("program subscribe: %w", err)
	}

	return &wsProgramStream{program: program, conn: conn, sub: sub}, nil
}

type programSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (s *programSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// OnProgramAccountChange opens a websocket subscription for program and
// invokes cb for every notification until Unsubscribe is called or ctx ends.
// Only the first connection must succeed: a dropped connection is re-opened
// with exponential backoff.
func (c *Client) OnProgramAccountChange(ctx context.Context, program string, cb func(ProgramAccountEvent)) (Subscription, error) {
	if c.wsURL == "" {
		return nil, fmt.Errorf("websocket url not configured")
	}

	pubkey, err := sol.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid program address %q: %w", program, err)
	}

	stream, err := c.dial(ctx, c.wsURL, program, pubkey)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	handle := &programSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.runProgramSubscription(subCtx, handle.done, program, pubkey, stream, cb)

	return handle, nil
}

func (c *Client) runProgramSubscription(ctx context.Context, done chan<- struct{}, program string, pubkey sol.PublicKey,
	stream programStream, cb func(ProgramAccountEvent)) {
	defer close(done)

	entry := c.log.WithField("program", program)
	for {
		err := receive(ctx, stream, cb)
		stream.Close()
		if ctx.Err() != nil {
			return
		}

		entry.WithField("error", err).Warn("Program subscription dropped, reconnecting")

		stream, err = c.reconnect(ctx, program, pubkey)
		if err != nil {
			// solo la fine del contesto interrompe i tentativi
			return
		}
		entry.Info("Program subscription restored")
	}
}

func receive(ctx context.Context, stream programStream, cb func(ProgramAccountEvent)) error {
	for {
		event, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		cb(event)
	}
}

func (c *Client) reconnect(ctx context.Context, program string, pubkey sol.PublicKey) (programStream, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.reconnectDelay
	exp.MaxInterval = 30 * time.Second
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.MaxElapsedTime = 0

	var stream programStream
	err := backoff.RetryNotify(func() error {
		s, err := c.dial(ctx, c.wsURL, program, pubkey)
		if err != nil {
			return err
		}
		stream = s
		return nil
	}, backoff.WithContext(exp, ctx), func(err error, wait time.Duration) {
		c.log.WithFields(logrus.Fields{
			"program": program,
			"wait":    wait,
			"error":   err,
		}).Debug("Program subscription reconnect failed")
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}
