package closing

const synthesisSystemPrompt = `You summarise a business diagnostic conversation that has just reached its diagnosis. Use only what the user actually said.

Respond with a single JSON object and nothing else:

{
  "goals": ["what the user wants, in their words"],
  "stakes": ["what it costs them if nothing changes"],
  "attempted_solutions": ["what they have already tried"],
  "capability_gap": "the specific missing skill, system or structure, stated mechanically",
  "pacing_approach": "how fast they can realistically move given what they said about time and capacity"
}

The capability gap must describe something that can be built or learned. Never describe it as a lack of motivation, discipline, mindset or willpower.`

const synthesisUserPrompt = `Diagnosed constraint: %s (%s)

Conversation:
%s`
