package firestore

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client wraps the Firestore client with RFQ-board-specific helpers. All
// methods degrade to no-ops when the client is disabled, so callers never
// need to branch on configuration.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// ClientConfig holds configuration for the Firestore client.
type ClientConfig struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Logger          *log.Logger
}

// ConfigFromEnv builds a ClientConfig from environment variables.
func ConfigFromEnv() *ClientConfig {
	return &ClientConfig{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         getEnvBool("FIRESTORE_ENABLED", false),
		Logger:          log.New(os.Stdout, "[Firestore] ", log.LstdFlags),
	}
}

// NewClient creates a new Firestore client. When cfg.Enabled is false, it
// returns a client whose methods are all no-ops without touching the
// network, which is the default for local development and tests.
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = ConfigFromEnv()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[Firestore] ", log.LstdFlags)
	}

	client := &Client{projectID: cfg.ProjectID, logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("firestore sync disabled, running in no-op mode")
		return client, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FIREBASE_PROJECT_ID is required when Firestore is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	client.app = app
	client.firestore = fsClient
	cfg.Logger.Printf("firestore client initialized for project %s", cfg.ProjectID)
	return client, nil
}

// Close releases the underlying Firestore connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// IsEnabled reports whether Firestore sync is active.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// PublishBoardEvent writes a BoardSnapshot under
// rfq-board/{requestID}/events/{eventID}.
func (c *Client) PublishBoardEvent(ctx context.Context, requestID string, snap *BoardSnapshot) error {
	if !c.IsEnabled() {
		c.logger.Printf("firestore disabled, skipping board event request=%s type=%s", requestID, snap.EventType)
		return nil
	}
	if snap.EventID == "" {
		snap.EventID = fmt.Sprintf("%s_%d", snap.EventType, time.Now().UnixNano())
	}
	docPath := fmt.Sprintf("rfq-board/%s/events/%s", requestID, snap.EventID)
	_, err := c.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"requestId": snap.RequestID,
		"quoteId":   snap.QuoteID,
		"eventType": snap.EventType,
		"assetPair": snap.AssetPair,
		"status":    snap.Status,
		"timestamp": snap.Timestamp,
		"data":      snap.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish board event: %w", err)
	}
	return nil
}

// CreateAuditEntry writes an AuditTrailEntry under
// rfq-audit/{requestID}/entries/{entryID}.
func (c *Client) CreateAuditEntry(ctx context.Context, requestID string, entry *AuditTrailEntry) error {
	if !c.IsEnabled() {
		c.logger.Printf("firestore disabled, skipping audit entry request=%s phase=%s", requestID, entry.Phase)
		return nil
	}
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("%s_%d", entry.Phase, time.Now().UnixNano())
	}
	docPath := fmt.Sprintf("rfq-audit/%s/entries/%s", requestID, entry.EntryID)
	_, err := c.firestore.Doc(docPath).Set(ctx, map[string]interface{}{
		"requestId":    entry.RequestID,
		"phase":        entry.Phase,
		"action":       entry.Action,
		"actor":        entry.Actor,
		"actorType":    entry.ActorType,
		"timestamp":    entry.Timestamp,
		"previousHash": entry.PreviousHash,
		"entryHash":    entry.EntryHash,
		"details":      entry.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// GetLatestAuditEntry returns the most recent audit entry for a quote
// request, used to compute the next entry's PreviousHash.
func (c *Client) GetLatestAuditEntry(ctx context.Context, requestID string) (*AuditTrailEntry, error) {
	if !c.IsEnabled() {
		return nil, nil
	}
	collPath := fmt.Sprintf("rfq-audit/%s/entries", requestID)
	docs, err := c.firestore.Collection(collPath).OrderBy("timestamp", gcpfirestore.Desc).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var entry AuditTrailEntry
	if err := docs[0].DataTo(&entry); err != nil {
		return nil, fmt.Errorf("failed to parse audit entry: %w", err)
	}
	entry.EntryID = docs[0].Ref.ID
	return &entry, nil
}

// Health reports whether the Firestore connection is usable. A disabled
// client is always healthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("firestore client not initialized")
	}
	// A not-found response still proves the connection and credentials are
	// good; only a transport-level failure should fail the health check.
	_, err := c.firestore.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore health check failed: %w", err)
	}
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}
