package execution

import (
	"context"
	"time"

	"canvasflow/models"
	"canvasflow/providers"
)

// imageInputExecutor surfaces a user-supplied image as the node's output.
type imageInputExecutor struct{}

func (e *imageInputExecutor) Execute(_ context.Context, node *models.Node, _ Inputs) (*Result, error) {
	data, ok := node.Data.(*models.ImageInputData)
	if !ok {
		return nil, NewValidationError("imageInput node has no payload")
	}
	if data.ImageURL == "" && data.ImageData == "" {
		return nil, NewValidationError("no image uploaded")
	}
	return &Result{Output: &models.Output{
		Kind:      models.KindImage,
		URL:       data.ImageURL,
		Data:      data.ImageData,
		CreatedAt: time.Now(),
	}}, nil
}

// promptExecutor surfaces the node's prompt text as a text output.
type promptExecutor struct{}

func (e *promptExecutor) Execute(_ context.Context, node *models.Node, _ Inputs) (*Result, error) {
	data, ok := node.Data.(*models.PromptData)
	if !ok || data.Text == "" {
		return nil, NewValidationError("prompt text is empty")
	}
	return &Result{Output: &models.Output{
		Kind:      models.KindText,
		Text:      data.Text,
		CreatedAt: time.Now(),
	}}, nil
}

// annotationExecutor passes the incoming image through, stamping the note
// into the output metadata.
type annotationExecutor struct{}

func (e *annotationExecutor) Execute(_ context.Context, node *models.Node, inputs Inputs) (*Result, error) {
	img, ok := inputs[models.HandleImage]
	if !ok {
		return nil, NewValidationError("missing input: image")
	}
	out := *img
	out.CreatedAt = time.Now()
	if data, ok := node.Data.(*models.AnnotationData); ok && data.Text != "" {
		meta := make(map[string]any, len(out.Meta)+1)
		for k, v := range out.Meta {
			meta[k] = v
		}
		meta["annotation"] = data.Text
		out.Meta = meta
	}
	return &Result{Output: &out}, nil
}

// generateImageExecutor calls the configured provider to generate an image
// from the resolved prompt and optional source image.
type generateImageExecutor struct {
	adapters *providers.Registry
}

func (e *generateImageExecutor) Execute(ctx context.Context, node *models.Node, inputs Inputs) (*Result, error) {
	data, ok := node.Data.(*models.GenerateImageData)
	if !ok {
		return nil, NewValidationError("generate-image node has no payload")
	}
	prompt := data.Prompt
	if in, found := inputs[models.HandlePrompt]; found && in.Text != "" {
		prompt = in.Text
	}
	images := imageRefs(inputs[models.HandleImage])
	if prompt == "" && len(images) == 0 {
		return nil, NewValidationError("missing input: prompt or image")
	}
	adapter, params, err := resolveProvider(e.adapters, data.Provider, data.Model)
	if err != nil {
		return nil, err
	}
	if preset, found := models.ResolutionPresets[data.Resolution]; found {
		params["width"] = preset.Width
		params["height"] = preset.Height
	}
	if data.Seed != 0 {
		params["seed"] = data.Seed
	}

	generated, err := adapter.Generate(ctx, models.GenerationInput{
		Prompt:     prompt,
		Images:     images,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: &models.Output{
		Kind:      models.KindImage,
		URL:       generated.URL,
		Data:      generated.Data,
		Provider:  data.Provider,
		Model:     data.Model,
		Seed:      data.Seed,
		Meta:      generated.Meta,
		CreatedAt: time.Now(),
	}}, nil
}

// generateVideoExecutor calls the configured provider to generate a video
// clip.
type generateVideoExecutor struct {
	adapters *providers.Registry
}

func (e *generateVideoExecutor) Execute(ctx context.Context, node *models.Node, inputs Inputs) (*Result, error) {
	data, ok := node.Data.(*models.GenerateVideoData)
	if !ok {
		return nil, NewValidationError("generate-video node has no payload")
	}
	prompt := data.Prompt
	if in, found := inputs[models.HandlePrompt]; found && in.Text != "" {
		prompt = in.Text
	}
	images := imageRefs(inputs[models.HandleImage])
	if prompt == "" && len(images) == 0 {
		return nil, NewValidationError("missing input: prompt or image")
	}
	adapter, params, err := resolveProvider(e.adapters, data.Provider, data.Model)
	if err != nil {
		return nil, err
	}
	if preset, found := models.ResolutionPresets[data.Resolution]; found {
		params["width"] = preset.Width
		params["height"] = preset.Height
	}
	duration := data.DurationSec
	if duration <= 0 {
		duration = 5
	}
	params["duration"] = duration

	generated, err := adapter.Generate(ctx, models.GenerationInput{
		Prompt:     prompt,
		Images:     images,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: &models.Output{
		Kind:      models.KindVideo,
		URL:       generated.URL,
		Data:      generated.Data,
		Provider:  data.Provider,
		Model:     data.Model,
		Meta:      generated.Meta,
		CreatedAt: time.Now(),
	}}, nil
}

// llmGenerateExecutor calls the configured provider for a text completion.
type llmGenerateExecutor struct {
	adapters *providers.Registry
}

func (e *llmGenerateExecutor) Execute(ctx context.Context, node *models.Node, inputs Inputs) (*Result, error) {
	data, ok := node.Data.(*models.LLMGenerateData)
	if !ok {
		return nil, NewValidationError("llm-generate node has no payload")
	}
	prompt := data.Prompt
	if in, found := inputs[models.HandlePrompt]; found && in.Text != "" {
		prompt = in.Text
	}
	if prompt == "" {
		return nil, NewValidationError("missing input: prompt")
	}
	adapter, params, err := resolveProvider(e.adapters, data.Provider, data.Model)
	if err != nil {
		return nil, err
	}
	if data.SystemPrompt != "" {
		params["system"] = data.SystemPrompt
	}

	generated, err := adapter.Generate(ctx, models.GenerationInput{
		Prompt:     prompt,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}
	if generated.Text == "" {
		return nil, &Error{Category: ErrorCategoryUnknown, Message: "provider returned no text"}
	}
	return &Result{Output: &models.Output{
		Kind:      models.KindText,
		Text:      generated.Text,
		Provider:  data.Provider,
		Model:     data.Model,
		CreatedAt: time.Now(),
	}}, nil
}

// splitGridExecutor slices the incoming image into a rows×cols set of cell
// outputs. The engine spawns one child per cell afterwards.
type splitGridExecutor struct{}

func (e *splitGridExecutor) Execute(_ context.Context, node *models.Node, inputs Inputs) (*Result, error) {
	data, ok := node.Data.(*models.SplitGridData)
	if !ok {
		return nil, NewValidationError("split-grid node has no payload")
	}
	img, found := inputs[models.HandleImage]
	if !found {
		return nil, NewValidationError("missing input: image")
	}
	if data.Rows < 1 || data.Cols < 1 {
		return nil, NewValidationError("grid dimensions not configured (rows=%d, cols=%d)", data.Rows, data.Cols)
	}

	now := time.Now()
	cells := make([]models.Output, 0, data.Rows*data.Cols)
	for row := 0; row < data.Rows; row++ {
		for col := 0; col < data.Cols; col++ {
			cell := *img
			cell.CreatedAt = now
			cell.Meta = map[string]any{
				"row": row, "col": col,
				"rows": data.Rows, "cols": data.Cols,
			}
			cells = append(cells, cell)
		}
	}

	primary := *img
	primary.CreatedAt = now
	primary.Meta = map[string]any{"rows": data.Rows, "cols": data.Cols}
	return &Result{Output: &primary, Cells: cells}, nil
}

// outputExecutor pins whichever input is connected, preferring image over
// video over text.
type outputExecutor struct{}

func (e *outputExecutor) Execute(_ context.Context, _ *models.Node, inputs Inputs) (*Result, error) {
	for _, handle := range []string{models.HandleImage, models.HandleVideo, models.HandleText} {
		if in, found := inputs[handle]; found {
			out := *in
			out.CreatedAt = time.Now()
			return &Result{Output: &out}, nil
		}
	}
	return nil, NewValidationError("missing input: nothing connected")
}

// resolveProvider validates the provider/model pair and returns the adapter
// plus a parameter map seeded with the model.
func resolveProvider(adapters *providers.Registry, provider, model string) (providers.Adapter, map[string]any, error) {
	if provider == "" || model == "" {
		return nil, nil, NewValidationError("no provider/model configured")
	}
	adapter, err := adapters.Get(provider)
	if err != nil {
		return nil, nil, NewValidationError("unknown provider %q", provider)
	}
	return adapter, map[string]any{"model": model}, nil
}

// imageRefs turns an image output into provider image references, preferring
// the URL over inline base64 data.
func imageRefs(img *models.Output) []string {
	if img == nil {
		return nil
	}
	if img.URL != "" {
		return []string{img.URL}
	}
	if img.Data != "" {
		return []string{img.Data}
	}
	return nil
}
