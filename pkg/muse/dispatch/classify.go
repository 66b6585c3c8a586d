package dispatch

import "github.com/jholhewres/muse/pkg/muse/channels"

// Branch is the input kind of an incoming message.
type Branch int

const (
	BranchText Branch = iota
	BranchImage
	BranchAudio
	BranchDocument
)

func (b Branch) String() string {
	switch b {
	case BranchImage:
		return "image"
	case BranchAudio:
		return "audio"
	case BranchDocument:
		return "document"
	default:
		return "text"
	}
}

// Classify picks the branch from the first attachment using the same rules
// channels apply when they label incoming media.
func Classify(msg *channels.IncomingMessage) Branch {
	if msg == nil || msg.Media == nil {
		return BranchText
	}
	switch channels.MediaType(msg.Media.Filename, msg.Media.MimeType) {
	case channels.MessageImage:
		return BranchImage
	case channels.MessageAudio:
		return BranchAudio
	default:
		return BranchDocument
	}
}
