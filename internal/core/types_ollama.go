package core

// ShowRequest is the body of POST /api/show.
type ShowRequest struct {
	Model string `json:"model"`
}

// ModelDetails is the Ollama details block shared by show and tags.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ShowParameters are the default sampling parameters of a synthetic descriptor.
type ShowParameters struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumCtx      int     `json:"num_ctx"`
}

// ShowResponse is a synthetic Ollama /api/show descriptor. ModelInfo is an open
// map because architecture keys are prefixed with the model family.
type ShowResponse struct {
	License      string         `json:"license"`
	Modelfile    string         `json:"modelfile"`
	Parameters   ShowParameters `json:"parameters"`
	Template     string         `json:"template"`
	System       string         `json:"system"`
	Details      ModelDetails   `json:"details"`
	ModelInfo    map[string]any `json:"model_info"`
	Tensors      []any          `json:"tensors"`
	Capabilities []string       `json:"capabilities"`
	Synthetic    bool           `json:"synthetic"`
}

// TagModel is one entry of an Ollama /api/tags listing.
type TagModel struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// TagsResponse is the Ollama /api/tags response.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}
