package provider

import "context"

// AWSTranscribe is a scaffold for batch AWS Transcribe. A proper integration
// stages the segment in S3, starts a transcription job, and polls it; until
// that exists the adapter reports unavailable so the dispatcher skips it.
type AWSTranscribe struct{}

func NewAWSTranscribe() *AWSTranscribe { return &AWSTranscribe{} }

func (a *AWSTranscribe) Key() string   { return "aws" }
func (a *AWSTranscribe) Label() string { return "AWS Transcribe (beta)" }

func (a *AWSTranscribe) Available() bool { return false }

func (a *AWSTranscribe) Transcribe(ctx context.Context, audio []byte, mimeHint string) (string, error) {
	return "", ErrUnavailable
}
