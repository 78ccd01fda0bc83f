package model

// ArtifactFilename 产物固定文件名
const ArtifactFilename = "index.html"

// Artifact 一次执行生成的单个 HTML 文档
type Artifact struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// NewArtifact 创建 index.html 产物
func NewArtifact(content string) Artifact {
	return Artifact{Filename: ArtifactFilename, Content: content}
}

// Empty 内容是否为空
func (a Artifact) Empty() bool {
	return a.Content == ""
}
