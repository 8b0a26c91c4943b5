package quic

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

var bufferPool = &sync.Pool{
	New: func() any {
		buf := make([]byte, 4)
		return &buf
	},
}

// link is one established QUIC connection with its ordered control stream.
// Ordered messages are length-prefixed frames on the control stream,
// unordered messages use one unidirectional stream each and unreliable
// messages are datagrams.
type link struct {
	conn    quic.Connection
	control quic.Stream
	reader  *bufio.Reader
	send    chan outgoingMessage
	closed  atomic.Bool
	stats   transport.Counters
}

func newLink(conn quic.Connection, control quic.Stream) *link {
	return &link{
		conn:    conn,
		control: control,
		reader:  bufio.NewReader(control),
		send:    make(chan outgoingMessage, sendBuffer),
	}
}

// run blocks until the connection fails or ctx is done.
func (l *link) run(ctx context.Context, onMessage func([]byte), onError func(error)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.readPump(onMessage) })
	g.Go(func() error { return l.streamPump(ctx, onMessage) })
	g.Go(func() error { return l.datagramPump(ctx, onMessage) })
	g.Go(func() error { return l.writePump(ctx, onError) })
	g.Go(func() error {
		<-ctx.Done()
		l.closeWith(transport.ReasonShutdown)
		return ctx.Err()
	})
	err := g.Wait()
	l.closed.Store(true)
	if connErr := context.Cause(l.conn.Context()); connErr != nil {
		return connErr
	}
	return err
}

func (l *link) readPump(onMessage func([]byte)) error {
	for {
		frame, err := readFrame(l.reader)
		if err != nil {
			return err
		}
		if len(frame) == 0 {
			continue
		}
		l.stats.Received(len(frame))
		onMessage(frame)
	}
}

func (l *link) streamPump(ctx context.Context, onMessage func([]byte)) error {
	for {
		stream, err := l.conn.AcceptUniStream(ctx)
		if err != nil {
			return err
		}
		go func() {
			message, err := io.ReadAll(io.LimitReader(stream, maxFrameSize))
			if err != nil || len(message) == 0 {
				return
			}
			l.stats.Received(len(message))
			onMessage(message)
		}()
	}
}

func (l *link) datagramPump(ctx context.Context, onMessage func([]byte)) error {
	for {
		message, err := l.conn.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		l.stats.Received(len(message))
		onMessage(message)
	}
}

func (l *link) writePump(ctx context.Context, onError func(error)) error {
	defer func() {
		if r := recover(); r != nil {
			onError(fmt.Errorf("writePump panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case message, ok := <-l.send:
			if !ok {
				return nil
			}
			if err := l.write(ctx, message); err != nil {
				l.stats.Drop()
				onError(err)
				continue
			}
			l.stats.Sent(len(message.Content))
		}
	}
}

func (l *link) write(ctx context.Context, message outgoingMessage) error {
	switch message.Delivery {
	case transport.Unreliable:
		if err := l.conn.SendDatagram(message.Content); err != nil {
			return eris.Wrap(err, "failed sending datagram")
		}
		return nil

	case transport.ReliableUnordered:
		stream, err := l.conn.OpenUniStreamSync(ctx)
		if err != nil {
			return eris.Wrap(err, "failed opening stream")
		}
		if _, err := stream.Write(message.Content); err != nil {
			stream.CancelWrite(0)
			return eris.Wrap(err, "failed writing to stream")
		}
		return stream.Close()

	default:
		return writeFrame(l.control, message.Content)
	}
}

func (l *link) enqueue(data []byte, delivery transport.Delivery) error {
	if l.closed.Load() {
		return ErrTransportClosed
	}
	message := outgoingMessage{Content: append([]byte(nil), data...), Delivery: delivery}
	select {
	case l.send <- message:
		return nil
	case <-time.After(sendTimeout):
		l.stats.Drop()
		return eris.New("timeout queueing message")
	}
}

func (l *link) closeWith(reason transport.DisconnectReason) {
	if l.closed.CompareAndSwap(false, true) {
		l.conn.CloseWithError(closeCode(reason), reason.String())
	}
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return eris.Wrapf(ErrFrameTooLarge, "%d bytes", len(data))
	}
	header := *bufferPool.Get().(*[]byte)
	defer bufferPool.Put(&header)

	binary.LittleEndian.PutUint32(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, eris.Wrapf(ErrFrameTooLarge, "%d bytes", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func withDatagrams(config *quic.Config) *quic.Config {
	if config == nil {
		config = &quic.Config{}
	} else {
		config = config.Clone()
	}
	config.EnableDatagrams = true
	return config
}
