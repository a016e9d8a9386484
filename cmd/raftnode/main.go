// Command raftnode starts one member of the raft consensus core
// standalone: durable log + term/vote stores, the cluster-binding
// handshake, the wire transport, the driver loop, and the read-only
// admin HTTP surface. Wiring-only, in the teacher's minimal cmd
// footprint: all decision logic lives in internal/raft.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/jsxtech/neo4j-sub001/internal/adminapi"
	"github.com/jsxtech/neo4j-sub001/internal/clusterbinding"
	"github.com/jsxtech/neo4j-sub001/internal/clusterbinding/discoverypb"
	"github.com/jsxtech/neo4j-sub001/internal/metrics"
	"github.com/jsxtech/neo4j-sub001/internal/raft"
	"github.com/jsxtech/neo4j-sub001/internal/transport"
)

func main() {
	var (
		selfID      = flag.String("id", "", "this member's MemberId (UUID); required unless -gen-id is set")
		genID       = flag.Bool("gen-id", false, "generate a fresh MemberId and print it instead of starting")
		peersFlag   = flag.String("peers", "", "comma-separated id=host:port pairs for every bootstrap member including self")
		dataDir     = flag.String("data-dir", "./data", "directory for raft-log/ and raft-state/")
		listenAddr  = flag.String("listen", ":7400", "address to accept raft wire-protocol connections on")
		adminAddr   = flag.String("admin-listen", ":7401", "address for the read-only admin/status HTTP surface")
		bindingAddr = flag.String("binding-listen", ":7402", "address for the cluster-binding gRPC handshake service")
		bootstrap   = flag.Bool("bootstrap-capable", false, "whether this member may mint a fresh ClusterId if none exists")
		logLevel    = flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	)
	flag.Parse()

	zerolog.SetGlobalLevel(parseLevel(*logLevel))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *genID {
		id := uuid.New()
		log.Info().Str("member-id", id.String()).Msg("generated member id")
		return
	}

	self, err := parseMemberID(*selfID)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -id")
	}

	peerAddrs, members, err := parsePeers(*peersFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -peers")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	discovery := clusterbinding.NewInMemoryDiscovery(self, members.Members, map[raft.MemberId]bool{self: *bootstrap})
	binder := clusterbinding.NewBinder(*dataDir, discovery, 200*time.Millisecond, 30*time.Second)
	clusterID, err := binder.Bind(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("cluster binding failed")
	}
	log.Info().Str("cluster-id", clusterID.String()).Msg("cluster binding complete")

	bindingSrv := grpc.NewServer()
	clusterbindingServer := clusterbinding.NewServer(discovery)
	go func() {
		if err := serveBindingGRPC(*bindingAddr, bindingSrv, clusterbindingServer); err != nil {
			log.Error().Err(err).Msg("cluster binding grpc server exited")
		}
	}()

	segLog, err := raft.OpenSegmentedLog(*dataDir, 64<<20)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open segmented log")
	}
	termStore, err := raft.NewTermStore(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open term store")
	}

	reg := prometheus.NewRegistry()
	promMetrics := metrics.New(reg)

	cfg := raft.DefaultMachineConfig(self, members.Members, *dataDir)

	var machine *raft.RaftMachine
	tp := transport.New(self, clusterID, *listenAddr, peerAddrs, enqueuerFunc(func(m raft.Message) {
		machine.Enqueue(m)
	}))

	machine, err = raft.NewRaftMachine(cfg, clusterID, segLog, termStore, members, tp, promMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct raft machine")
	}

	go func() {
		if err := tp.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("raft transport listener exited")
		}
	}()

	adminSrv := adminapi.NewServer(*adminAddr, self, machine, reg)
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("admin http server exited")
		}
	}()

	log.Info().Str("self", self.String()).Str("listen", *listenAddr).Msg("raft node starting")
	machine.Run(ctx)

	log.Info().Msg("raft node shutting down")
	bindingSrv.GracefulStop()
	_ = adminSrv.Close()
	_ = segLog.Close()
}

// enqueuerFunc adapts a plain function to transport.Enqueuer.
type enqueuerFunc func(raft.Message)

func (f enqueuerFunc) Enqueue(m raft.Message) { f(m) }

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func parseMemberID(s string) (raft.MemberId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return raft.MemberId{}, err
	}
	return raft.MemberId(id), nil
}

// parsePeers parses "id1=host:port,id2=host:port,..." into a
// MemberId->address map plus the MemberSet of all listed ids.
func parsePeers(s string) (map[raft.MemberId]string, raft.MemberSet, error) {
	addrs := make(map[raft.MemberId]string)
	var members []raft.MemberId
	if strings.TrimSpace(s) == "" {
		return addrs, raft.MemberSet{}, nil
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		id, err := parseMemberID(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, raft.MemberSet{}, err
		}
		addrs[id] = strings.TrimSpace(kv[1])
		members = append(members, id)
	}
	return addrs, raft.MemberSet{Members: members}, nil
}

func serveBindingGRPC(addr string, srv *grpc.Server, impl *clusterbinding.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	discoverypb.RegisterClusterBindingServer(srv, impl)
	return srv.Serve(lis)
}
