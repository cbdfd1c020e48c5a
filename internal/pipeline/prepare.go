package pipeline

import (
	"context"
	"errors"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// Result values stored for items that fail before reaching the provider
const (
	ImageEncodingFailed = "Image encoding failed"
	TextReadFailed      = "Could not read text file"
)

// LocalFailure is a per-item failure that happened on this machine. Its
// message is what gets stored; the cause is only logged.
type LocalFailure struct {
	Message string
	Cause   error
}

func (e *LocalFailure) Error() string {
	return e.Message
}

func (e *LocalFailure) Unwrap() error {
	return e.Cause
}

// IsLocalFailure returns true if err is a *LocalFailure
func IsLocalFailure(err error) bool {
	var lf *LocalFailure
	return errors.As(err, &lf)
}

// preparer loads the image and reference text of an item and renders its prompt
func (r *Runner) preparer(spec domain.TaskSpec) dispatch.Preparer {
	return func(ctx context.Context, item domain.WorkItem) (llm.Request, error) {
		img, err := items.LoadImage(item.ImagePath)
		if err != nil {
			log.WithField("image", item.ImagePath).WithError(err).Debug("image load failed")
			return llm.Request{}, &LocalFailure{Message: ImageEncodingFailed, Cause: err}
		}

		var text string
		if spec.IsTextPairedTask() && item.HasText() {
			text, err = items.ReadText(item.TextPath)
			if err != nil {
				log.WithField("text", item.TextPath).WithError(err).Debug("text read failed")
				return llm.Request{}, &LocalFailure{Message: TextReadFailed, Cause: err}
			}
		}

		prompt, err := r.prompts.BuildPrompt(spec, item, text)
		if err != nil {
			return llm.Request{}, err
		}
		return llm.Request{
			System:          spec.SystemPrompt,
			Prompt:          prompt,
			Image:           &llm.Image{MIME: img.MIME, Data: img.Data},
			Temperature:     r.cfg.Model.Temperature,
			MaxOutputTokens: r.cfg.Model.MaxOutputTokens,
		}, nil
	}
}
