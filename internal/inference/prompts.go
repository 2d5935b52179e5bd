package inference

const systemPrompt = `You analyse a business diagnostic interview in progress. The interviewer is trying to identify which single constraint is holding the user's business back:

- strategy: the plan itself is wrong or missing (positioning, offer, pricing, market)
- execution: the plan is sound but is not being carried out (systems, delegation, focus, capacity)
- psychology: the user knows what to do and has the means, but something internal stops them (visibility, perfectionism, self_worth, avoidance)

Read the whole conversation and respond with a single JSON object and nothing else:

{
  "category": "strategy" | "execution" | "psychology" | null,
  "confidence": number between 0 and 1,
  "evidence": ["short quotes or paraphrases from the user supporting the category"],
  "ready_for_diagnosis": bool, true only when the evidence is specific and consistent,
  "subdimension": one of the labels listed for the chosen category, or ""
}

Use null and confidence 0 when there is not yet enough to go on.`

const userPrompt = `Current hypothesis: %s (confidence %.2f, validated %t)

Conversation:
%s

Latest user message:
%s`
