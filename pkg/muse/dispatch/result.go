package dispatch

// FailureKind says why a capability chain produced no regular answer.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureTimeout
	FailureBackend
	FailureUnsupported
	FailureRefused
	FailureNoTranscript
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureTimeout:
		return "timeout"
	case FailureBackend:
		return "backend"
	case FailureUnsupported:
		return "unsupported"
	case FailureRefused:
		return "refused"
	case FailureNoTranscript:
		return "no_transcript"
	default:
		return "unknown"
	}
}

// Result is what the router hands to the assembler.
type Result struct {
	// Text is the answer, or the caption when ArtifactPath is set.
	Text string

	// ArtifactPath is a generated file (image) waiting to be delivered.
	ArtifactPath string

	// Failure is FailureNone for a regular answer.
	Failure FailureKind

	// Err is the underlying error, kept for logging only.
	Err error

	// Prompt is what gets recorded as the user side of the exchange.
	Prompt string

	// Summary replaces Text in the stored history when set.
	Summary string

	// Document marks failures that happened while analyzing a document,
	// which have their own wording.
	Document bool
}

// OK reports whether the chain produced a regular answer.
func (r Result) OK() bool { return r.Failure == FailureNone }

// Messages holds every user-facing fallback text.
type Messages struct {
	Reply           string `yaml:"reply"`
	DocumentTimeout string `yaml:"document_timeout"`
	DocumentFailed  string `yaml:"document_failed"`
	Unsupported     string `yaml:"unsupported"`
	Refused         string `yaml:"refused"`
	NoTranscript    string `yaml:"no_transcript"`
	ImageCaption    string `yaml:"image_caption"`
	ImageFailed     string `yaml:"image_failed"`
	MemoryEmpty     string `yaml:"memory_empty"`
	MemoryFailed    string `yaml:"memory_failed"`
	FactsFailed     string `yaml:"facts_failed"`
	CommandFailed   string `yaml:"command_failed"`
	PromptLabFailed string `yaml:"promptlab_failed"`
	PageEmpty       string `yaml:"page_empty"`
	PageFailed      string `yaml:"page_failed"`
}

// DefaultMessages returns the English texts.
func DefaultMessages() Messages {
	return Messages{
		Reply:           "I'm a bit confused. I'll get better. 😍",
		DocumentTimeout: "⏰ Document analysis timed out.",
		DocumentFailed:  "❌ Failed to analyze document.",
		Unsupported:     "Unsupported file format.",
		Refused:         "Oops! 📷 I’m in image mode right now and can’t analyze documents this way.",
		NoTranscript:    "I'm sorry, I couldn't quite catch your voice. Would you mind sending it again, please? 😔",
		ImageCaption:    "Image generation is complete.",
		ImageFailed:     "I couldn't draw that one. Try describing it differently. 🎨",
		MemoryEmpty:     "I don't have anything about you in my memory. 😶",
		MemoryFailed:    "An error occurred while generating the summary.",
		FactsFailed:     "🤖 Oops! I couldn't find an AI fact at the moment. Please try again later 🌟📆",
		CommandFailed:   "Something went wrong. Please try again later.",
		PromptLabFailed: "An error occurred while generating the promptlab.",
		PageEmpty:       "❌ No content found on the page.",
		PageFailed:      "❌ An error occurred while summarizing the URL.",
	}
}

// withDefaults fills empty entries so a partial locale file still works.
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Reply, d.Reply)
	fill(&m.DocumentTimeout, d.DocumentTimeout)
	fill(&m.DocumentFailed, d.DocumentFailed)
	fill(&m.Unsupported, d.Unsupported)
	fill(&m.Refused, d.Refused)
	fill(&m.NoTranscript, d.NoTranscript)
	fill(&m.ImageCaption, d.ImageCaption)
	fill(&m.ImageFailed, d.ImageFailed)
	fill(&m.MemoryEmpty, d.MemoryEmpty)
	fill(&m.MemoryFailed, d.MemoryFailed)
	fill(&m.FactsFailed, d.FactsFailed)
	fill(&m.CommandFailed, d.CommandFailed)
	fill(&m.PromptLabFailed, d.PromptLabFailed)
	fill(&m.PageEmpty, d.PageEmpty)
	fill(&m.PageFailed, d.PageFailed)
	return m
}

// Text returns what the user sees for r.
func (m Messages) Text(r Result) string {
	switch r.Failure {
	case FailureNone:
		return r.Text
	case FailureUnsupported:
		return m.Unsupported
	case FailureRefused:
		return m.Refused
	case FailureNoTranscript:
		return m.NoTranscript
	case FailureTimeout:
		if r.Document {
			return m.DocumentTimeout
		}
		return m.Reply
	default:
		if r.Document {
			return m.DocumentFailed
		}
		return m.Reply
	}
}
