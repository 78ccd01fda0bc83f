// Package prompt 构造发给生成模型的各阶段提示词
//
// 所有函数都是纯函数：相同输入得到相同输出，不做任何 I/O。
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"chemsim/internal/shared/model"
)

// Instruction 第一阶段：请求针对该实验的结构化设计说明
func Instruction(req model.ExperimentRequest) string {
	return fmt.Sprintf(`I need detailed instructions for building a chemistry experiment simulation web page with the following details:

Experiment Name: %s
Description: %s
Complexity Level: %s
Target Age Group: %s

The instructions should cover:
1. How to structure the page for this specific chemistry experiment
2. How the simulation logic should run entirely in the browser
3. What components and UI elements are needed to represent this experiment
4. How to visualize the chemistry concepts (molecules, reactions, etc.)
5. What CSS and styling would be appropriate for this educational purpose
6. Safety precautions and educational notes to include

Please be detailed and specific to this experiment, not generic website building advice.
`, req.Name, req.Description, req.Complexity, req.Audience)
}

// Implementation 第二阶段：依据设计说明生成单个自包含 HTML 文档
func Implementation(req model.ExperimentRequest, instructions string) string {
	return fmt.Sprintf(`Based on these instructions:

%s

Generate the complete code for a chemistry experiment simulation that runs standalone in a sandboxed iframe (no backend required).

The page should simulate: %s
Description: %s

Important requirements:
1. The result must be a SINGLE self-contained HTML document named index.html
2. All simulation logic must run in client-side JavaScript
3. All dependencies must be loaded from CDNs
4. CSS and scripts must be inlined in the document
5. No server-side API calls are allowed

Make sure the simulation is interactive, educational, and visually appealing for %s students.
Provide complete code, not snippets or placeholders.
NOTE: DO NOT GIVE ANYTHING OTHER THAN THE CODE. DO NOT GIVE COMMENTS AS WELL. KEEP EVERYTHING IN ONE SINGULAR HTML FILE WITH CSS AND SCRIPT BUILT INTO IT.
BE AS GRAPHIC AS POSSIBLE FOR THE SIMULATIONS.
`, instructions, req.Name, req.Description, req.Audience)
}

// Validation 第三阶段：请求对文档的正确性与完整性审查
func Validation(artifact model.Artifact) string {
	return fmt.Sprintf(`Validate the following chemistry experiment simulation project for correctness and completeness:

%s

Check for:
1. Scientific accuracy of the chemistry simulation
2. Correct page structure and interactive behaviour
3. Appropriate CSS styling
4. All CDN dependencies present and loadable
5. Any bugs or issues in the code

Provide a detailed analysis of any problems found and suggest specific fixes.
If the project passes validation, confirm that it's ready for use.
`, projectJSON(artifact))
}

// Fix 修复阶段：依据审查意见生成完整的修正文档
// current 非空时附带当前文档，便于模型在原有基础上修正
func Fix(feedback string, current model.Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Based on this validation feedback:

%s

Fix all the issues in the project and provide the complete corrected index.html.
Return the complete code for the whole document, not just the fixes.
KEEP EVERYTHING IN ONE SINGULAR HTML FILE WITH CSS AND SCRIPT BUILT INTO IT.
`, feedback)
	if !current.Empty() {
		fmt.Fprintf(&b, `
Current project:

%s
`, projectJSON(current))
	}
	return b.String()
}

// projectJSON 以 {文件名: 内容} 形式序列化产物
func projectJSON(artifact model.Artifact) string {
	name := artifact.Filename
	if name == "" {
		name = model.ArtifactFilename
	}
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]string{name: artifact.Content}); err != nil {
		return artifact.Content
	}
	return strings.TrimRight(b.String(), "\n")
}
