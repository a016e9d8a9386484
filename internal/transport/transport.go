// Package transport implements the network boundary described in spec
// §5: "A network intake thread deserializes messages and enqueues them
// on the driver loop... A network egress thread (or pool) pulls outbound
// messages from a per-peer queue and writes them, with no ordering
// interaction with the driver." It is the raw-TCP analogue of the
// teacher's internal/raftserver, which wraps the same kind of dispatch
// in a grpc.Server; here the wire format is the spec's own binary
// framing (internal/wire), not protobuf.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsxtech/neo4j-sub001/internal/raft"
	"github.com/jsxtech/neo4j-sub001/internal/wire"
)

// egressQueueDepth bounds each per-peer outbound queue; spec §5 calls for
// "backpressure that drops oldest retryable messages rather than
// blocking the loop indefinitely".
const egressQueueDepth = 256

// Enqueuer is the subset of RaftMachine the intake loop needs.
type Enqueuer interface {
	Enqueue(m raft.Message)
}

// Transport owns one TCP listener for inbound Raft frames and one
// egress queue + dialer per peer. It implements raft.Sender.
type Transport struct {
	self      raft.MemberId
	cluster   raft.ClusterId
	listenAddr string
	peerAddrs map[raft.MemberId]string
	machine   Enqueuer

	mu      sync.Mutex
	egress  map[raft.MemberId]chan raft.Message
	dialing map[raft.MemberId]bool
}

func New(self raft.MemberId, cluster raft.ClusterId, listenAddr string, peerAddrs map[raft.MemberId]string, machine Enqueuer) *Transport {
	return &Transport{
		self:       self,
		cluster:    cluster,
		listenAddr: listenAddr,
		peerAddrs:  peerAddrs,
		machine:    machine,
		egress:     make(map[raft.MemberId]chan raft.Message),
		dialing:    make(map[raft.MemberId]bool),
	}
}

// ListenAndServe blocks accepting inbound connections and returns only
// when Accept fails. The listener is not exposed, so a caller cannot
// close it to stop the loop.
func (t *Transport) ListenAndServe() error {
	lis, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", t.listenAddr, err)
	}
	log.Info().Str("addr", t.listenAddr).Msg("raft transport listening")
	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		frame, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("raft transport: connection read error")
			}
			return
		}
		cluster, msg, err := wire.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("raft transport: dropping malformed frame")
			continue
		}
		if cluster != t.cluster {
			// Spec §4.7: "any mismatching message is dropped silently."
			continue
		}
		t.machine.Enqueue(msg)
	}
}

// readFrame reads one |total-len u32|...| frame, returning the complete
// buffer total-len-prefix included (wire.Decode expects that form).
func readFrame(r *bufio.Reader) ([]byte, error) {
	lenBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBytes); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lenBytes)
	rest := make([]byte, total)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	frame := make([]byte, 4+len(rest))
	copy(frame, lenBytes)
	copy(frame[4:], rest)
	return frame, nil
}

// Send implements raft.Sender: it enqueues m onto peer's egress queue,
// lazily starting that peer's dialer goroutine on first use, and drops
// the oldest queued message rather than blocking the driver loop if the
// queue is full.
func (t *Transport) Send(to raft.MemberId, cluster raft.ClusterId, m raft.Message) {
	t.mu.Lock()
	q, ok := t.egress[to]
	if !ok {
		q = make(chan raft.Message, egressQueueDepth)
		t.egress[to] = q
		go t.runEgress(to, q)
	}
	t.mu.Unlock()

	select {
	case q <- m:
		return
	default:
	}
	select {
	case <-q:
	default:
	}
	select {
	case q <- m:
	default:
	}
}

// runEgress is the per-peer egress goroutine: dial, write, and redial on
// failure with a short backoff, never blocking other peers.
func (t *Transport) runEgress(to raft.MemberId, q chan raft.Message) {
	addr, ok := t.peerAddrs[to]
	if !ok {
		log.Error().Str("peer", to.String()).Msg("raft transport: no address for peer")
		return
	}

	var conn net.Conn
	backoff := 10 * time.Millisecond
	for m := range q {
		if conn == nil {
			var err error
			conn, err = net.DialTimeout("tcp", addr, 2*time.Second)
			if err != nil {
				log.Debug().Err(err).Str("peer", to.String()).Msg("raft transport: dial failed, dropping message")
				time.Sleep(backoff)
				if backoff < 2*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = 10 * time.Millisecond
		}

		buf, err := wire.Encode(t.cluster, m)
		if err != nil {
			log.Error().Err(err).Msg("raft transport: encode failure")
			continue
		}
		if _, err := conn.Write(buf); err != nil {
			conn.Close()
			conn = nil
			log.Debug().Err(err).Str("peer", to.String()).Msg("raft transport: write failed, will redial")
		}
	}
	if conn != nil {
		conn.Close()
	}
}

var _ raft.Sender = (*Transport)(nil)
