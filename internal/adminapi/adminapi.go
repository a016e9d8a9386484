// Package adminapi exposes the read-only status/membership HTTP surface
// described in SPEC_FULL.md §6.1: an observability window onto the raft
// core, explicitly distinct from the excluded transaction/Bolt
// endpoints (spec §1 non-goals). Grounded on the teacher's go.mod stack
// (gin-gonic/gin, rs/cors, swaggo/swag, swaggo/gin-swagger), none of
// which the retrieved teacher files exercised directly -- this is their
// home in the rebuilt repo.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jsxtech/neo4j-sub001/internal/raft"
)

// StatusView is the subset of RaftMachine the HTTP surface is allowed to
// read. Kept narrow so the admin surface cannot mutate raft state -- it
// is observability only.
type StatusView interface {
	CurrentRole() raft.Role
	CurrentLeader() raft.MemberId
	CurrentTerm() raft.Term
	CommitIndex() raft.LogIndex
	Members() raft.MemberSet
}

// statusResponse is the JSON body for GET /v1/status.
//
// @Description current raft role/term/commit snapshot
type statusResponse struct {
	Self        string `json:"self"`
	Role        string `json:"role"`
	Leader      string `json:"leader,omitempty"`
	Term        uint64 `json:"term"`
	CommitIndex int64  `json:"commitIndex"`
}

type membershipResponse struct {
	Members []string `json:"members"`
}

// NewServer builds the *http.Server for the admin surface, wiring gin,
// rs/cors, a Prometheus /metrics handler against reg, and swaggo docs.
func NewServer(addr string, self raft.MemberId, view StatusView, reg *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/v1/status", func(c *gin.Context) {
		leader := ""
		if l := view.CurrentLeader(); l != raft.NilMember {
			leader = l.String()
		}
		c.JSON(http.StatusOK, statusResponse{
			Self:        self.String(),
			Role:        view.CurrentRole().String(),
			Leader:      leader,
			Term:        uint64(view.CurrentTerm()),
			CommitIndex: int64(view.CommitIndex()),
		})
	})

	router.GET("/v1/membership", func(c *gin.Context) {
		set := view.Members()
		ids := make([]string, len(set.Members))
		for i, m := range set.Members {
			ids[i] = m.String()
		}
		c.JSON(http.StatusOK, membershipResponse{Members: ids})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}
