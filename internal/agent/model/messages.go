package model

// Canned replies returned to the user when a run cannot produce an answer on its own.
const (
	RecursionErrorMessage            = "Let me connect you to my colleague."
	RecursionMaxExecutionTimeMessage = "I'm sorry. I'm having trouble understanding your question. Could you please rephrase that?"
	TimeoutErrorMessage              = "I'm sorry. I didn't get that. Could you rephrase that?"
	APIErrorMessage                  = "Sorry. We are having a technical difficulty. Please try again later."
	OtherErrorMessage                = "Sorry. We are having a technical difficulty. I will connect you to my colleague."

	PleaseWaitMessage    = "I got you. Please wait."
	NeedMoreStepsMessage = "Sorry, need more steps to process this request."

	// DeleteHistoryCommand is the exact question that wipes a session's history instead of running the agent.
	DeleteHistoryCommand = "Delete chat history."
	HistoryDeletedReply  = "Chat history deleted."

	DeliveryErrorMessage = "The message was not sent due to an error: %s"

	WelcomeMessage = "Welcome to Chattabot!\n\nI'm your personal assistant, ready to answer your questions. " +
		"I'm still a work-in-progress, but will get better over time the more I learn."
)
