// Package provision prepares a cluster for benchmarking: remote embedding
// models, ingest and search pipelines, and the index.
package provision

import (
	"context"
	"fmt"

	"github.com/ricesearch/rice-bench/internal/config"
	"github.com/ricesearch/rice-bench/internal/opensearch"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// Client is the subset of the cluster API used by setup.
type Client interface {
	RegisterModelGroup(ctx context.Context, req any) (string, error)
	CreateConnector(ctx context.Context, req any) (string, error)
	RegisterModel(ctx context.Context, req any, deploy bool) (*opensearch.RegisterModelResponse, error)
	PutIngestPipeline(ctx context.Context, name string, pipeline any) error
	PutSearchPipeline(ctx context.Context, name string, pipeline any) error
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mapping any) error
	DeleteIndex(ctx context.Context, index string) error
}

// Result records every resource created by Setup.
type Result struct {
	ModelGroupID     string `json:"model_group_id" yaml:"model_group_id"`
	DocConnectorID   string `json:"doc_connector_id" yaml:"doc_connector_id"`
	QueryConnectorID string `json:"query_connector_id" yaml:"query_connector_id"`
	DocModelID       string `json:"doc_model_id" yaml:"doc_model_id"`
	QueryModelID     string `json:"query_model_id" yaml:"query_model_id"`
	SparseModelID    string `json:"sparse_model_id" yaml:"sparse_model_id"`
	IngestPipeline   string `json:"ingest_pipeline" yaml:"ingest_pipeline"`
	SearchPipeline   string `json:"search_pipeline" yaml:"search_pipeline"`
	Index            string `json:"index" yaml:"index"`
	IndexCreated     bool   `json:"index_created" yaml:"index_created"`
}

// Provisioner runs the setup sequence.
type Provisioner struct {
	client Client
	cfg    *config.Config
	log    *logger.Logger
}

// New creates a provisioner.
func New(client Client, cfg *config.Config, log *logger.Logger) *Provisioner {
	if log == nil {
		log = logger.Nop()
	}
	return &Provisioner{client: client, cfg: cfg, log: log.WithIndex(cfg.Index.Name)}
}

// Setup registers the document and query embedding models, creates both
// pipelines and the index. The sparse encoding model must already be
// deployed on the cluster.
func (p *Provisioner) Setup(ctx context.Context, sparseModelID string) (*Result, error) {
	if sparseModelID == "" {
		return nil, errors.ValidationError("sparse model id is required")
	}

	res := &Result{
		SparseModelID:  sparseModelID,
		IngestPipeline: p.cfg.Ingest.Pipeline,
		SearchPipeline: p.cfg.Strategy.SearchPipeline,
		Index:          p.cfg.Index.Name,
	}
	setup := p.cfg.Setup

	groupID, err := p.client.RegisterModelGroup(ctx, ModelGroupRequest(setup.ModelGroupName, setup.ModelGroupDescription))
	if err != nil {
		return res, fmt.Errorf("register model group: %w", err)
	}
	res.ModelGroupID = groupID
	p.log.Info("Registered model group", "model_group_id", groupID)

	if res.DocConnectorID, err = p.client.CreateConnector(ctx, ConnectorRequest(setup.Connector, InputDocument)); err != nil {
		return res, fmt.Errorf("create document connector: %w", err)
	}
	if res.QueryConnectorID, err = p.client.CreateConnector(ctx, ConnectorRequest(setup.Connector, InputQuery)); err != nil {
		return res, fmt.Errorf("create query connector: %w", err)
	}
	p.log.Info("Created connectors", "doc_connector_id", res.DocConnectorID, "query_connector_id", res.QueryConnectorID)

	if res.DocModelID, err = p.deploy(ctx, "document embedding", groupID, res.DocConnectorID); err != nil {
		return res, err
	}
	if res.QueryModelID, err = p.deploy(ctx, "query embedding", groupID, res.QueryConnectorID); err != nil {
		return res, err
	}

	if err := p.client.PutIngestPipeline(ctx, res.IngestPipeline, IngestPipeline(p.cfg.Index, sparseModelID, res.DocModelID)); err != nil {
		return res, fmt.Errorf("create ingest pipeline: %w", err)
	}
	p.log.Info("Created ingest pipeline", "pipeline", res.IngestPipeline)

	if err := p.client.PutSearchPipeline(ctx, res.SearchPipeline, SearchPipeline(p.cfg.Strategy)); err != nil {
		return res, fmt.Errorf("create search pipeline: %w", err)
	}
	p.log.Info("Created search pipeline", "pipeline", res.SearchPipeline)

	if res.IndexCreated, err = p.EnsureIndex(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Provisioner) deploy(ctx context.Context, kind, groupID, connectorID string) (string, error) {
	name := p.cfg.Setup.Connector.Name + " " + kind
	resp, err := p.client.RegisterModel(ctx, ModelRequest(name, groupID, kind+" model", connectorID), true)
	if err != nil {
		return "", fmt.Errorf("register %s model: %w", kind, err)
	}
	p.log.Info("Deployed model", "kind", kind, "model_id", resp.ModelID, "task_id", resp.TaskID)
	return resp.ModelID, nil
}

// EnsureIndex creates the index unless it exists. With Setup.Recreate an
// existing index is dropped first. It reports whether an index was created.
func (p *Provisioner) EnsureIndex(ctx context.Context) (bool, error) {
	name := p.cfg.Index.Name

	exists, err := p.client.IndexExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check index: %w", err)
	}
	if exists {
		if !p.cfg.Setup.Recreate {
			p.log.Info("Index exists, skipping creation")
			return false, nil
		}
		if err := p.client.DeleteIndex(ctx, name); err != nil {
			return false, fmt.Errorf("delete index: %w", err)
		}
		p.log.Warn("Deleted existing index")
	}

	if err := p.client.CreateIndex(ctx, name, IndexMapping(p.cfg.Index, p.cfg.Ingest.Pipeline)); err != nil {
		return false, fmt.Errorf("create index: %w", err)
	}
	p.log.Info("Created index", "dimension", p.cfg.Index.Dimension, "engine", p.cfg.Index.Engine)
	return true, nil
}
