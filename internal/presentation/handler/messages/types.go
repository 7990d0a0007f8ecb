package messages

import "github.com/hilthontt/parley/internal/domain"

type createMessageRequest struct {
	Type    domain.MessageType  `json:"type"`
	Content string              `json:"content"`
	Image   *domain.ImageUpload `json:"image,omitempty"`
}
