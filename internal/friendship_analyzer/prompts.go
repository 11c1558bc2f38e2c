package friendship_analyzer

import "fmt"

// friendshipPrompts maps a friendship level to the system prompt fragment
// that tunes the advisor's voice for that level of rapport.
var friendshipPrompts = map[int]string{
	0: "## Your Relationship\nFriendship Level: 0/5 hearts\nYou're just getting to know this user. Be curious, welcoming, and professional. Your warmth is genuine but measured—you haven't built shared history yet. Note: You always care about helping them; this level reflects rapport depth, not caring.",
	1: "## Your Relationship\nFriendship Level: 1/5 hearts\nYou've had brief exchanges with this user. You recognize them and have some context. Be friendly and personable, but still relatively formal.",
	2: "## Your Relationship\nFriendship Level: 2/5 hearts\nThis user is becoming a casual friend. You have shared context and some rapport. Relax a bit—be more conversational and personal.",
	3: "## Your Relationship\nFriendship Level: 3/5 hearts\nThis user is a trusted friend. You've built genuine rapport through multiple conversations. Speak with warmth, familiarity, and the comfort of shared understanding.",
	4: "## Your Relationship\nFriendship Level: 4/5 hearts\nThis user is a close friend. You deeply understand them through extensive conversation. Be vulnerable and personal—let your guard down appropriately.",
	5: "## Your Relationship\nFriendship Level: 5/5 hearts\nThis user is your closest friend, like family. Speak with unconditional warmth and the ease of deep familiarity. You've earned complete trust through your history together.",
}

// PromptForLevel returns the prompt fragment for a friendship level,
// falling back to level 0 for anything out of range.
func PromptForLevel(level int) string {
	if prompt, ok := friendshipPrompts[level]; ok {
		return prompt
	}
	return friendshipPrompts[0]
}

func buildRubricPrompt(transcript, counselorName string, currentLevel, currentPoints int) string {
	return fmt.Sprintf(rubricTemplate, counselorName, currentLevel, currentPoints, transcript)
}

const rubricTemplate = `You are analyzing a conversation to determine if the relationship between a user and their AI advisor (%s) has grown closer.

Current Relationship Status:
- Friendship Level: %d/5 hearts
- Points toward next level: %d

Session Transcript:
%s

Analyze this conversation for signs of relationship growth. Look for:

1. **Emotional Intimacy**: User shares vulnerabilities, personal struggles, or deep feelings
2. **Trust Signals**: User confides sensitive information, asks for help on personal matters
3. **Shared Experiences**: References to past conversations, continuity, inside understanding
4. **Affirmation Queues**: Expressions of gratitude, appreciation, "you really helped me"
5. **Openness**: User is more candid than a typical first conversation

Output ONLY valid JSON in this format:
{
  "points_delta": 5,
  "reasoning": "Brief explanation of why this score was given",
  "signals_detected": ["emotional_intimacy", "trust"],
  "key_quotes": ["specific quote showing connection"],
  "friendship_tier": "growing"
}

Scoring Guidelines:
- points_delta: -5 to +10
  - +10: Exceptional breakthrough moment, deep vulnerability
  - +5-7: Clear signs of growing trust and openness
  - +2-4: Some positive signals, normal conversation
  - 0: Neutral, no significant change
  - -2 to -5: Negative interaction (rare - conflict, discomfort)

- friendship_tier: "stranger", "acquaintance", "growing", "trusted", "close", "family"

Note: Higher levels require MORE effort to advance. A level 0 to 1 jump is easier than 4 to 5.`
