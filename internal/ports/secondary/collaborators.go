package secondary

import "context"

// ConversationSource defines the secondary port for prior thread dialogue.
type ConversationSource interface {
	// GetContext returns the prior conversation for a case thread, or nil
	// if no dialogue exists. A nil conversation causes the workflow to
	// no-op.
	GetContext(ctx context.Context, caseNumber, threadID string) (*Conversation, error)
}

// Conversation holds the prior dialogue of a support thread.
type Conversation struct {
	CaseNumber string
	ThreadID   string
	Messages   []ConversationMessage
}

// ConversationMessage is a single utterance in a thread.
type ConversationMessage struct {
	Author string
	Text   string
}

// CaseSource defines the secondary port for support-case data retrieval.
type CaseSource interface {
	// GetCase retrieves the case record by its number.
	GetCase(ctx context.Context, caseNumber string) (*CaseDetails, error)

	// GetCaseWithJournal retrieves the case together with its journal
	// (work-note) entries.
	GetCaseWithJournal(ctx context.Context, caseNumber string) (*CaseData, error)
}

// CaseDetails holds the headline fields of a support case.
type CaseDetails struct {
	SysID            string
	Number           string
	ShortDescription string
	Description      string
	CloseNotes       string
	Category         string
	State            string
}

// JournalEntry is a single work note on a case.
type JournalEntry struct {
	CreatedOn string
	CreatedBy string
	Value     string
}

// CaseData bundles a case with its journal entries.
type CaseData struct {
	Case    *CaseDetails
	Journal []JournalEntry
}

// Assessment is the quality scorer's verdict on a case.
type Assessment struct {
	Decision    string
	Score       float64
	MissingInfo []string
}

// QualityScorer defines the secondary port for case quality assessment.
type QualityScorer interface {
	// Score assesses whether enough information exists to draft a KB
	// article from the conversation and case data.
	Score(ctx context.Context, conv *Conversation, data *CaseData) (*Assessment, error)
}

// QuestionGenerator defines the secondary port for clarifying-question
// generation during the gathering loop.
type QuestionGenerator interface {
	// Generate phrases a clarifying prompt for the information gaps in
	// the assessment.
	Generate(ctx context.Context, assessment *Assessment, conv *Conversation, caseNumber string) (string, error)
}

// Article is a drafted knowledge-base article.
type Article struct {
	Title    string
	Problem  string
	Solution string
}

// GenerationResult is the article generator's output, including
// duplicate detection against existing KB articles.
type GenerationResult struct {
	IsDuplicate bool
	Article     *Article
	Confidence  float64
	SimilarKBs  []string
}

// ArticleGenerator defines the secondary port for KB article drafting.
type ArticleGenerator interface {
	GenerateArticle(ctx context.Context, conv *Conversation, data *CaseData) (*GenerationResult, error)
}

// ApprovalPoster defines the secondary port for routing a drafted
// article to human approval. The poster resolves the approval outcome
// through its own reaction handling; the engine only learns the result
// via an approval event.
type ApprovalPoster interface {
	PostForApproval(ctx context.Context, caseNumber, channelID, threadID string, article *Article, message string) error
}

// ThreadPoster defines the secondary port for posting messages to the
// originating conversation thread.
type ThreadPoster interface {
	PostToThread(ctx context.Context, channelID, threadID, text string) error
}
