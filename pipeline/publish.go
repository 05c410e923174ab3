// Copyright 2025 KraftContent
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"time"
)

// PublishExecutor finalizes the article (citation links, HTML rendering)
// and publishes it: WordPress when a publisher is configured, otherwise
// the post store alone.
type PublishExecutor struct {
	Publisher Publisher
	Posts     PostStore
	SiteURL   string
}

func (e *PublishExecutor) Stage() Stage { return StagePublish }

func (e *PublishExecutor) Execute(ctx context.Context, run *Run) error {
	if run.Final == nil || run.Brief == nil {
		return fmt.Errorf("publish stage requires final and brief output")
	}
	if e.Posts == nil && e.Publisher == nil {
		return fmt.Errorf("publish stage requires a publisher or post store")
	}

	var sources []Source
	if run.Scout != nil {
		sources = run.Scout.Sources
	}
	markdown := linkCitations(run.Final.Markdown, sources)

	post := &PublishedPost{
		Slug:            run.Brief.Slug,
		Title:           run.Brief.Title,
		Markdown:        markdown,
		HTML:            markdownToHTML(markdown),
		MetaDescription: run.Brief.MetaDescription,
		Keywords:        append([]string(nil), run.Brief.Keywords...),
		PublishedAt:     time.Now().UTC(),
	}
	if run.Gate != nil {
		post.Embeddings = run.Gate.Embeddings
	}

	method := PublishStore
	url := fmt.Sprintf("%s/posts/%s", e.SiteURL, post.Slug)
	if e.Publisher != nil {
		link, err := e.Publisher.Publish(ctx, post)
		switch {
		case err == nil:
			method = PublishWordPress
			url = link
		case e.Posts == nil:
			return fmt.Errorf("wordpress publish failed: %w", err)
		}
		// With a store configured, publish errors fall back to it so a
		// WordPress outage never loses a finished article.
	}

	// Without a store the post skips the duplicate-check corpus; the
	// gate tolerates that.
	if e.Posts != nil {
		if err := e.Posts.SavePost(ctx, post); err != nil {
			return fmt.Errorf("save published post: %w", err)
		}
	}

	run.Published = &PublishData{
		URL:         url,
		Method:      method,
		PublishedAt: post.PublishedAt,
	}
	return nil
}
