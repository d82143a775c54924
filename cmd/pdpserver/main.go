// Command pdpserver wires the decision point to a configuration source and
// a gin HTTP front door, demonstrating how the C1-C5 components in this
// module compose into a running PDP deployment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotrongnhan/saplgo/attrstore"
	"github.com/dotrongnhan/saplgo/auditsink"
	"github.com/dotrongnhan/saplgo/decision"
	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/pdplog"
	"github.com/dotrongnhan/saplgo/source"
	"github.com/dotrongnhan/saplgo/storage"
	"github.com/dotrongnhan/saplgo/value"
	"github.com/dotrongnhan/saplgo/voter"
)

func main() {
	fmt.Println("🚀 saplgo PDP server")
	fmt.Println("====================")

	log := pdplog.New("cmd.pdpserver")

	configDir := getEnv("PDP_CONFIG_DIR", "./pdp-config")
	addr := getEnv("PDP_LISTEN_ADDR", ":8081")

	attributes := buildAttributeBroker(log)
	functions := expr.NewStdFunctionBroker()

	voterSource := decision.NewPdpVoterSource(functions, attributes)

	multiSource, err := source.NewMultiDirectorySource(configDir, true, voterSource)
	if err != nil {
		fmt.Printf("failed to watch %s: %v\n", configDir, err)
		os.Exit(1)
	}
	defer multiSource.Dispose()

	var interceptors []decision.VoteInterceptor
	if sink := buildAuditSink(log); sink != nil {
		interceptors = append(interceptors, sink)
	}

	dp := decision.NewDecisionPoint(voterSource, interceptors...)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/:pdpId/decide", decideHandler(dp))

	srv := &http.Server{Addr: addr, Handler: engine}

	go func() {
		fmt.Printf("listening on %s, watching %s\n", addr, configDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("serve: %v", err)
		}
	}()

	waitForShutdown(srv, log)
}

// wireSubscription is the JSON wire shape of a decide() request body.
type wireSubscription struct {
	Subject     interface{} `json:"subject"`
	Action      interface{} `json:"action"`
	Resource    interface{} `json:"resource"`
	Environment interface{} `json:"environment"`
}

// wireDecision is the JSON wire shape of one AuthorizationDecision.
type wireDecision struct {
	Decision    string      `json:"decision"`
	Obligations interface{} `json:"obligations,omitempty"`
	Advice      interface{} `json:"advice,omitempty"`
	Resource    interface{} `json:"resource,omitempty"`
}

func toWireDecision(d voter.AuthorizationDecision) wireDecision {
	return wireDecision{
		Decision:    d.Decision.String(),
		Obligations: valuesToAny(d.Obligations),
		Advice:      valuesToAny(d.Advice),
		Resource:    rawJSONOrNil(d.Resource),
	}
}

func valuesToAny(vs []value.Value) []json.RawMessage {
	if len(vs) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs {
		raw, err := value.ToJSON(v)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

func rawJSONOrNil(v value.Value) json.RawMessage {
	if v.IsUndefined() {
		return nil
	}
	raw, err := value.ToJSON(v)
	if err != nil {
		return nil
	}
	return raw
}

// decideHandler serves POST /:pdpId/decide. With no query string it
// returns the first decision as a single JSON object; with ?stream=true
// it emits newline-delimited JSON decisions until the client disconnects
// or the subscription's pdpId configuration is removed (spec.md §4.5
// "reactive decision stream").
func decideHandler(dp *decision.DecisionPoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var wire wireSubscription
		if err := c.ShouldBindJSON(&wire); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sub := decision.Subscription{
			PdpID:       c.Param("pdpId"),
			Subject:     value.FromAny(wire.Subject),
			Action:      value.FromAny(wire.Action),
			Resource:    value.FromAny(wire.Resource),
			Environment: value.FromAny(wire.Environment),
		}

		stream, cancel := dp.Decide(c.Request.Context(), sub)
		defer cancel()

		if c.Query("stream") != "true" {
			d := <-stream
			c.JSON(http.StatusOK, toWireDecision(d))
			return
		}

		c.Status(http.StatusOK)
		c.Header("Content-Type", "application/x-ndjson")
		flusher, canFlush := c.Writer.(http.Flusher)
		enc := json.NewEncoder(c.Writer)
		for d := range stream {
			if err := enc.Encode(toWireDecision(d)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

func buildAttributeBroker(log *pdplog.Logger) expr.AttributeBroker {
	if getEnv("PDP_ATTR_DB_NAME", "") == "" {
		return nullAttributeBroker{}
	}
	db, err := storage.NewDatabaseConnection(attrDatabaseConfig())
	if err != nil {
		log.Warnf("attribute store unavailable, falling back to no attributes: %v", err)
		return nullAttributeBroker{}
	}
	store, err := attrstore.NewStore(db, attrstore.DefaultPollInterval)
	if err != nil {
		log.Warnf("attribute store migration failed, falling back to no attributes: %v", err)
		return nullAttributeBroker{}
	}
	return store
}

func buildAuditSink(log *pdplog.Logger) *auditsink.Sink {
	if getEnv("PDP_AUDIT_DB_NAME", "") == "" {
		return nil
	}
	db, err := storage.NewDatabaseConnection(auditDatabaseConfig())
	if err != nil {
		log.Warnf("audit sink unavailable: %v", err)
		return nil
	}
	sink, err := auditsink.NewSink(db)
	if err != nil {
		log.Warnf("audit sink migration failed: %v", err)
		return nil
	}
	return sink
}

// attrDatabaseConfig/auditDatabaseConfig let the attribute store and the
// audit sink point at two different databases (or the same one, under
// different PDP_ATTR_DB_*/PDP_AUDIT_DB_* env prefixes) while sharing
// storage.NewDatabaseConnection's pooling setup.
func attrDatabaseConfig() *storage.DatabaseConfig {
	return databaseConfigWithPrefix("PDP_ATTR_DB")
}

func auditDatabaseConfig() *storage.DatabaseConfig {
	return databaseConfigWithPrefix("PDP_AUDIT_DB")
}

func databaseConfigWithPrefix(prefix string) *storage.DatabaseConfig {
	return &storage.DatabaseConfig{
		Host:         getEnv(prefix+"_HOST", "localhost"),
		Port:         getEnvAsInt(prefix+"_PORT", 5432),
		User:         getEnv(prefix+"_USER", "postgres"),
		Password:     getEnv(prefix+"_PASSWORD", "postgres"),
		DatabaseName: getEnv(prefix+"_NAME", ""),
		SSLMode:      getEnv(prefix+"_SSL_MODE", "disable"),
		TimeZone:     getEnv(prefix+"_TIMEZONE", "UTC"),
	}
}

// nullAttributeBroker resolves nothing, used when no attribute store is
// configured: every attribute call in a policy evaluates to an "invalid
// attribute name" error.
type nullAttributeBroker struct{}

func (nullAttributeBroker) Resolve(name string, entity value.Value, args []value.Value) (expr.AttributeStream, bool) {
	return nil, false
}

func waitForShutdown(srv *http.Server, log *pdplog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
