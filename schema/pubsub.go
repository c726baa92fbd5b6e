package schema

// Publisher is the black-box notification channel that changes to an array
// of referenced objects are announced on. The transport is provided
// externally.
type Publisher interface {
	Publish(className string, data interface{}) error
}

// PublisherFactory creates the publisher for a data class. Arrays that
// reference another class get one bound at schema build time.
type PublisherFactory func(className string) Publisher

type NoopPublisher struct{}

func (NoopPublisher) Publish(className string, data interface{}) error {
	return nil
}
