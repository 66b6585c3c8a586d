package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/muse/pkg/muse/ai"
	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
	"github.com/jholhewres/muse/pkg/muse/docs"
	"github.com/jholhewres/muse/pkg/muse/store"
)

// Attachment is a staged copy of the first attachment of a message.
type Attachment struct {
	Path     string
	Filename string
	MimeType string
}

// Request is one classified message ready for routing.
type Request struct {
	UserID   string
	Nickname string
	Branch   Branch
	Modality store.Modality
	Content  string

	// Attachment is nil on the text branch.
	Attachment *Attachment
}

// Router runs exactly one capability chain per request.
type Router struct {
	text        TextModel
	images      ImageModel
	transcriber Transcriber
	prompts     *prompts.Set
	store       Store
	cfg         Config
	env         Environment
	logger      *slog.Logger
}

// NewRouter creates a router.
func NewRouter(deps Deps, cfg Config, env Environment, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		text:        deps.Text,
		images:      deps.Images,
		transcriber: deps.Transcriber,
		prompts:     deps.Prompts,
		store:       deps.Store,
		cfg:         cfg.normalize(),
		env:         env.normalize(),
		logger:      logger.With("component", "router"),
	}
}

// Route maps (branch, modality) to a capability chain. Failures come back
// inside the Result and are never returned as errors.
func (r *Router) Route(ctx context.Context, req Request) Result {
	switch req.Branch {
	case BranchImage:
		return r.fromImage(ctx, req)
	case BranchAudio:
		text, res := r.transcribe(ctx, req)
		if !res.OK() {
			return res
		}
		req.Content = text
		return r.forModality(ctx, req)
	case BranchDocument:
		if req.Modality == store.ModalityImage {
			return Result{Failure: FailureRefused, Prompt: r.documentPrompt(req)}
		}
		return r.summarize(ctx, req)
	default:
		return r.forModality(ctx, req)
	}
}

// forModality answers plain text: a reply for text and voice users, an
// image for image users. Voice synthesis happens in the assembler.
func (r *Router) forModality(ctx context.Context, req Request) Result {
	if req.Modality == store.ModalityImage {
		return r.imagine(ctx, req, req.Content)
	}
	return r.reply(ctx, req)
}

// reply produces the main conversational answer with history and the
// current time in the configured zone.
func (r *Router) reply(ctx context.Context, req Request) Result {
	res := Result{Prompt: req.Content}

	history, err := r.historyText(ctx, req)
	if err != nil {
		r.logger.Warn("history unavailable, replying without it", "user", req.UserID, "error", err)
	}
	now := time.Now().In(r.env.Location)
	prompt, err := r.prompts.Render(prompts.TextResponse, prompts.Data{
		"BotName":  r.env.BotName,
		"Nickname": req.Nickname,
		"Time":     now.Format("2006-01-02 15:04"),
		"Zone":     r.env.Location.String(),
		"History":  history,
		"Content":  req.Content,
	})
	if err != nil {
		return r.fail(res, err)
	}

	text, err := r.complete(ctx, r.cfg.Timeouts.Reply, prompt)
	if err != nil {
		return r.fail(res, err)
	}
	res.Text = text
	res.Summary = r.condense(ctx, text)
	return res
}

// condense shortens long answers before they are stored as history. Any
// failure keeps the full text.
func (r *Router) condense(ctx context.Context, text string) string {
	if strings.Count(text, ".") < 5 {
		return ""
	}
	prompt, err := r.prompts.Render(prompts.ShortResponse, prompts.Data{"Text": text})
	if err != nil {
		return ""
	}
	short, err := r.complete(ctx, r.cfg.Timeouts.Helper, prompt)
	if err != nil {
		r.logger.Debug("short summary failed, storing full reply", "error", err)
		return ""
	}
	return short
}

func (r *Router) historyText(ctx context.Context, req Request) (string, error) {
	entries, err := r.store.RecentHistory(ctx, req.UserID, r.cfg.HistoryLimit)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n%s: %s\n", req.Nickname, e.Prompt, r.env.BotName, e.Response)
	}
	return strings.TrimSpace(b.String()), nil
}

// fromImage describes the picture with the vision model, then either
// answers about it or, in image mode, draws a new image from it.
func (r *Router) fromImage(ctx context.Context, req Request) Result {
	res := Result{Prompt: req.Content}
	if res.Prompt == "" {
		res.Prompt = "[image] " + req.Attachment.Filename
	}

	data, err := os.ReadFile(req.Attachment.Path)
	if err != nil {
		return r.fail(res, fmt.Errorf("reading staged image: %w", err))
	}
	question, err := r.prompts.Render(prompts.ImageDescribe, prompts.Data{"Question": req.Content})
	if err != nil {
		return r.fail(res, err)
	}

	vctx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Helper)
	description, err := r.text.CompleteWithVision(vctx, question, data, req.Attachment.MimeType)
	cancel()
	if err != nil {
		return r.fail(res, fmt.Errorf("describing image: %w", err))
	}

	if req.Modality == store.ModalityImage {
		return r.imagine(ctx, req, strings.TrimSpace(description+"\n"+req.Content))
	}

	prompt, err := r.prompts.Render(prompts.ImageAnalyze, prompts.Data{
		"BotName":     r.env.BotName,
		"Nickname":    req.Nickname,
		"Content":     req.Content,
		"Description": description,
	})
	if err != nil {
		return r.fail(res, err)
	}
	text, err := r.complete(ctx, r.cfg.Timeouts.Reply, prompt)
	if err != nil {
		return r.fail(res, err)
	}
	res.Text = text
	res.Summary = r.condense(ctx, text)
	return res
}

// imagine renders an image prompt from the request and recent prompts,
// generates the image and writes it under the media directory. When no
// image comes back the result carries a failure caption instead of a file.
func (r *Router) imagine(ctx context.Context, req Request, text string) Result {
	res := Result{Prompt: text}

	imagePrompt := text
	if rendered, err := r.imagePrompt(ctx, req.UserID, text); err != nil {
		r.logger.Warn("image prompt rendering failed, using request as prompt", "user", req.UserID, "error", err)
	} else {
		imagePrompt = rendered
	}

	path, err := r.generate(ctx, imagePrompt)
	if err != nil {
		r.logger.Warn("image generation failed", "user", req.UserID, "error", err)
		res.Err = err
		res.Text = r.caption(ctx, prompts.ImageFailure, text, r.cfg.Messages.ImageFailed)
		res.Summary = "Image generation failed: " + imagePrompt
		return res
	}
	res.ArtifactPath = path
	res.Text = r.caption(ctx, prompts.ImageSuccess, text, r.cfg.Messages.ImageCaption)
	res.Summary = imagePrompt
	return res
}

func (r *Router) imagePrompt(ctx context.Context, userID, text string) (string, error) {
	recent, err := r.store.RecentPrompts(ctx, userID, r.cfg.ImageHistory)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, "- "+e.Prompt)
	}
	prompt, err := r.prompts.Render(prompts.RenderImagePrompt, prompts.Data{
		"History": strings.Join(lines, "\n"),
		"Text":    text,
	})
	if err != nil {
		return "", err
	}
	return r.complete(ctx, r.cfg.Timeouts.Helper, prompt)
}

// generate produces one image and returns the path it was written to.
func (r *Router) generate(ctx context.Context, prompt string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Image)
	defer cancel()

	images, err := r.images.GenerateImage(gctx, prompt)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", ai.ErrEmptyResponse
	}

	dir := filepath.Join(r.env.MediaDir, "out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+imageExt(images[0].MimeType))
	if err := os.WriteFile(path, images[0].Data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}

func (r *Router) caption(ctx context.Context, name, request, fallback string) string {
	prompt, err := r.prompts.Render(name, prompts.Data{"Prompt": request})
	if err != nil {
		return fallback
	}
	text, err := r.complete(ctx, r.cfg.Timeouts.Helper, prompt)
	if err != nil || text == "" {
		return fallback
	}
	return text
}

// transcribe returns the spoken text of an audio attachment.
func (r *Router) transcribe(ctx context.Context, req Request) (string, Result) {
	res := Result{Prompt: "[voice message]"}

	data, err := os.ReadFile(req.Attachment.Path)
	if err != nil {
		return "", r.fail(res, fmt.Errorf("reading staged audio: %w", err))
	}
	tctx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Helper)
	defer cancel()

	text, err := r.transcriber.Transcribe(tctx, data, req.Attachment.Filename)
	if err != nil {
		return "", r.fail(res, fmt.Errorf("transcribing: %w", err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		res.Failure = FailureNoTranscript
		return "", res
	}
	return text, Result{}
}

// summarize extracts the document text and answers the user's request
// about it.
func (r *Router) summarize(ctx context.Context, req Request) Result {
	res := Result{Prompt: r.documentPrompt(req), Document: true}

	text, err := docs.ExtractFile(req.Attachment.Path)
	if errors.Is(err, docs.ErrUnsupported) {
		res.Failure = FailureUnsupported
		res.Err = err
		return res
	}
	if err != nil {
		return r.fail(res, fmt.Errorf("extracting %s: %w", req.Attachment.Filename, err))
	}

	head, err := r.prompts.Render(prompts.DocsPrompt, prompts.Data{"Request": req.Content})
	if err != nil {
		return r.fail(res, err)
	}
	prompt := head + "\n\n" + docs.Limit(text, docs.MaxChars)

	answer, err := r.complete(ctx, r.cfg.Timeouts.Document, prompt)
	if err != nil {
		return r.fail(res, err)
	}
	res.Text = answer
	res.Summary = r.condense(ctx, answer)
	return res
}

func (r *Router) documentPrompt(req Request) string {
	name := ""
	if req.Attachment != nil {
		name = req.Attachment.Filename
	}
	if req.Content == "" {
		return "[document] " + name
	}
	return req.Content + " [document] " + name
}

// complete runs one bounded text call.
func (r *Router) complete(ctx context.Context, timeout time.Duration, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := r.text.Complete(cctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// fail converts err into a failure kind on res.
func (r *Router) fail(res Result, err error) Result {
	res.Err = err
	res.Text = ""
	if ai.IsTimeout(err) {
		res.Failure = FailureTimeout
	} else {
		res.Failure = FailureBackend
	}
	r.logger.Warn("capability failed", "failure", res.Failure.String(), "error", err)
	return res
}

func imageExt(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
