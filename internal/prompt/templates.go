package prompt

// Placeholders substituted in user templates.
const (
	PlaceholderPrevTime         = "{{PREV_TIME}}"
	PlaceholderPrevLocation     = "{{PREV_LOCATION}}"
	PlaceholderPrevRelationship = "{{PREV_RELATIONSHIP}}"
	PlaceholderUser             = "{{USER}}"
	PlaceholderChar             = "{{CHAR}}"
)

// DefaultTemplate is the instruction used in individual mode when the user
// has not customised it.
const DefaultTemplate = `## Instructions
You are summarizing a roleplay between {{USER}} and {{CHAR}} for long-term memory.
Summarize each message below separately. Keep names, decisions, promises and
changes in relationships. Do not invent events that are not in the messages.
Continue from the previous state: time {{PREV_TIME}}, location {{PREV_LOCATION}},
relationship {{PREV_RELATIONSHIP}}. Repeat a value when it did not change.`

// DefaultBatchTemplate is the instruction used in batch mode when the user has
// not customised it.
const DefaultBatchTemplate = `## Instructions
You are summarizing a roleplay between {{USER}} and {{CHAR}} for long-term memory.
Write one combined summary for each group of messages listed below. Keep names,
decisions, promises and changes in relationships. Do not invent events that are
not in the messages. Continue from the previous state: time {{PREV_TIME}},
location {{PREV_LOCATION}}, relationship {{PREV_RELATIONSHIP}}.`

// DefaultCharacterTemplate asks for the character catalog block.
const DefaultCharacterTemplate = `## Characters
List every character who appears or is newly described, except {{USER}}.
Skip characters already listed under Known Characters unless something about
them changed. One line per character:
[CHARACTERS]
name | role | age | occupation | description | trait1, trait2 | relationship with {{USER}} | first message index
[/CHARACTERS]
Write N/A for unknown fields.`

// DefaultEventTemplate asks for the event catalog block.
const DefaultEventTemplate = `## Events
List story events worth remembering. Importance is one of high, medium, low.
[EVENTS]
title | description | participant1, participant2 | importance | message index
[/EVENTS]`

// DefaultItemTemplate asks for the item catalog block.
const DefaultItemTemplate = `## Items
List items that were obtained, given, lost or used in a meaningful way.
[ITEMS]
name | description | owner | origin | status | message index
[/ITEMS]`
