package speech

import "fmt"

// ProviderMock selects the in-tree mock vendor.
const ProviderMock = "mock"

// NewSynthesizer returns the synthesizer for the configured provider.
func NewSynthesizer(provider string) (Synthesizer, error) {
	switch provider {
	case ProviderMock:
		return NewMockSynthesizer(), nil
	default:
		return nil, fmt.Errorf("speech: unknown synthesizer provider %q", provider)
	}
}

// NewRecognizer returns the recognizer for the configured provider.
func NewRecognizer(provider string) (Recognizer, error) {
	switch provider {
	case ProviderMock:
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("speech: unknown recognizer provider %q", provider)
	}
}
