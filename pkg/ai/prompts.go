package ai

// QAPrompt is rendered with the retrieved context first and the question
// second.
const QAPrompt = `You are an expert in ML interpretability. Given the following context from academic papers, answer the question concisely.

Context:
%s

Question:
%s

Answer:`
