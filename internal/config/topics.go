package config

const (
	// TopicKnowledgeIngest is the NSQ topic carrying ingest/resync tasks,
	// one message per document version.
	TopicKnowledgeIngest = "knowledge.ingest"

	// ChannelIngestWorker is the consumer channel for the ingestion worker.
	ChannelIngestWorker = "worker"
)
