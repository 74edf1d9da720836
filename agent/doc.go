// Package agent contains the runners that execute one agent definition:
//
//  1. Conversational: the bounded model/tool reasoning loop
//  2. Flow: a fixed tool sequence without model involvement
//
// A runner receives the resolved collaborators of an agent snapshot (model,
// toolset, dispatcher, hook pipeline) through Env and owns the
// ExecutionState of a single run. Loading definitions, chat history and
// persistence are the engine's concern.
//
// Model output is interpreted with Interpret: native tool calls are used as
// is, otherwise the text is read as a ReAct object
//
//	{"thought": "...", "action": "ListIndexTool", "action_input": "..."}
//	{"thought": "...", "final_answer": "..."}
//
// and any other text is taken as the final answer.
package agent
