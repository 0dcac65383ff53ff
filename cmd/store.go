package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-analysis/internal/checkpoint"
	"github.com/sells-group/topic-analysis/internal/corpus"
	"github.com/sells-group/topic-analysis/internal/extract"
	"github.com/sells-group/topic-analysis/internal/model"
	"github.com/sells-group/topic-analysis/internal/prompt"
	anthropicpkg "github.com/sells-group/topic-analysis/pkg/anthropic"
)

// runIDLayout names a run by its start time.
const runIDLayout = "20060102_150405"

func newRunID(now time.Time) string {
	return now.Format(runIDLayout)
}

func openStore(ctx context.Context, runID string) (checkpoint.Store, error) {
	return checkpoint.Open(ctx, checkpoint.Options{
		Driver:      cfg.Store.Driver,
		OutputDir:   cfg.Store.OutputDir,
		ProgressDir: cfg.Store.ProgressDir,
		DatabaseURL: cfg.Store.DatabaseURL,
		RunID:       runID,
	})
}

func scanCorpus() ([]string, error) {
	return corpus.Scan(corpus.ScanOptions{
		Root:          cfg.Corpus.Root,
		DirFilter:     cfg.Corpus.DirFilter,
		ExcludeSuffix: cfg.Corpus.ExcludeSuffix,
	})
}

func loadCorpus(ctx context.Context) ([]model.Item, error) {
	ids, err := scanCorpus()
	if err != nil {
		return nil, err
	}
	return corpus.Load(ctx, cfg.Corpus.Root, ids, cfg.Corpus.LoadConcurrency)
}

// initPrompt builds the prompt renderer and the reply schema. Keys from the
// template file override the configured ones.
func initPrompt() (*prompt.Builder, extract.Schema, error) {
	schema := cfg.Extract.Fields
	template := ""
	if cfg.Prompt.TemplateFile != "" {
		f, err := prompt.LoadFile(cfg.Prompt.TemplateFile)
		if err != nil {
			return nil, extract.Schema{}, err
		}
		template = f.Template
		schema = mergeSchema(schema, f.Fields)
	}
	schema = schema.WithDefaults()

	b, err := prompt.NewBuilder(template, schema)
	if err != nil {
		return nil, extract.Schema{}, eris.Wrap(err, "init prompt")
	}
	return b, schema, nil
}

func mergeSchema(base, override extract.Schema) extract.Schema {
	if override.Category != "" {
		base.Category = override.Category
	}
	if override.Tags != "" {
		base.Tags = override.Tags
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	if override.RelatedMemory != "" {
		base.RelatedMemory = override.RelatedMemory
	}
	return base
}

func initExtractor(schema extract.Schema) *extract.Extractor {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.ClientOptions{
		BaseURL: cfg.Anthropic.BaseURL,
	})
	temp := cfg.Anthropic.Temperature
	sender := anthropicpkg.NewTextSender(client, anthropicpkg.SenderConfig{
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		Temperature:       &temp,
		Timeout:           time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
	})
	return extract.New(sender, extract.Config{
		MaxAttempts:  cfg.Extract.MaxAttempts,
		RetryDelay:   time.Duration(cfg.Extract.RetryDelayMs) * time.Millisecond,
		SyntaxRepair: cfg.Extract.SyntaxRepair,
		Schema:       schema,
	})
}
