package nlp

import "slices"

// TaskCapability names a task a model can be routed to.
type TaskCapability string

const (
	TaskEmbedding              TaskCapability = "embedding"
	TaskTextGeneration         TaskCapability = "text_generation"
	TaskVerbObjectExtraction   TaskCapability = "verb_object_extraction"
	TaskRelationClassification TaskCapability = "relation_classification"
)

// Model is a catalog entry. Dimensions is set for embedding models only.
type Model struct {
	ID           string
	Capabilities []TaskCapability
	Dimensions   int
	Local        bool
}

var chatTasks = []TaskCapability{TaskTextGeneration, TaskVerbObjectExtraction, TaskRelationClassification}

var embedTasks = []TaskCapability{TaskEmbedding}

// KnownModels lists models with known capabilities. Anything else is assumed
// to be a chat model served by an OpenAI-compatible server.
var KnownModels = []Model{
	{ID: "gpt-4o-mini", Capabilities: chatTasks},
	{ID: "gpt-4o", Capabilities: chatTasks},
	{ID: "gpt-4.1-mini", Capabilities: chatTasks},
	{ID: "text-embedding-3-small", Capabilities: embedTasks, Dimensions: 1536},
	{ID: "text-embedding-3-large", Capabilities: embedTasks, Dimensions: 3072},
	{ID: "text-embedding-ada-002", Capabilities: embedTasks, Dimensions: 1536},
	{ID: "sentence-transformers/all-MiniLM-L6-v2", Capabilities: embedTasks, Dimensions: 384, Local: true},
	{ID: "intfloat/multilingual-e5-small", Capabilities: embedTasks, Dimensions: 384, Local: true},
}

// GetModel looks up id in KnownModels.
func GetModel(id string) (Model, bool) {
	i := slices.IndexFunc(KnownModels, func(m Model) bool { return m.ID == id })
	if i < 0 {
		return Model{}, false
	}
	return KnownModels[i], true
}

// ModelsFor returns the known models that can serve task.
func ModelsFor(task TaskCapability) []Model {
	var out []Model
	for _, m := range KnownModels {
		if slices.Contains(m.Capabilities, task) {
			out = append(out, m)
		}
	}
	return out
}

// ModelCapabilities returns the capabilities of id, defaulting to chat tasks.
func ModelCapabilities(id string) []TaskCapability {
	if m, ok := GetModel(id); ok {
		return m.Capabilities
	}
	return chatTasks
}
