package prompts

import (
	"fmt"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

// TemplateError reports a prompt that cannot be rendered because the item
// does not supply a variable the template requires.
type TemplateError struct {
	Template string
	Variable string
	ItemID   int
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: item %d does not provide %s", e.Template, e.ItemID, e.Variable)
}

// PromptData holds template variables for the task prompts.
type PromptData struct {
	ExampleQuestion string
	ExampleResponse string
	TaskDescription string
	TextContent     string
}

// BuildPrompt renders the prompt for one item. The image_text template is used
// when the task is text-paired and the item has reference text; a text-paired
// task with a text-less item is a *TemplateError. text is ignored for image-only prompts.
func (l *Loader) BuildPrompt(spec domain.TaskSpec, item domain.WorkItem, text string) (string, error) {
	if spec.Task.IsTextPaired() && !item.HasText() {
		return "", &TemplateError{Template: spec.ImageTextTemplate, Variable: "TextContent", ItemID: item.ID}
	}

	withText := spec.Task.IsTextPaired()
	name := spec.ImageOnlyTemplate
	if withText {
		name = spec.ImageTextTemplate
	}

	_, meta, err := l.LoadTemplate(name)
	if err != nil {
		return "", err
	}
	// override templates may ask for text the image-only prompt cannot give
	if meta != nil && !withText {
		for _, v := range meta.Variables {
			if v == "TextContent" {
				return "", &TemplateError{Template: name, Variable: v, ItemID: item.ID}
			}
		}
	}

	data := PromptData{
		ExampleQuestion: spec.Example.Question,
		ExampleResponse: spec.Example.Response,
		TaskDescription: spec.Description,
	}
	if withText {
		data.TextContent = text
	}
	return l.Execute(name, data)
}
