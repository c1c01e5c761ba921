package feed

// BuildCommentForest nests flat comment records into per-post reply trees.
//
// Records must arrive pre-ordered (the store returns them in creation
// order); roots and child lists preserve that input order. A record whose
// ParentID is not in the input set (parent deleted, or on another post) is
// promoted to a root rather than dropped. Pure function, safe for
// concurrent use.
func BuildCommentForest(records []CommentRecord) map[int64][]*CommentNode {
	nodes := make(map[int64]*CommentNode, len(records))
	order := make([]*CommentNode, 0, len(records))

	for _, rec := range records {
		node := &CommentNode{
			CommentRecord: rec,
			Children:      []*CommentNode{},
		}
		nodes[rec.ID] = node
		order = append(order, node)
	}

	forest := make(map[int64][]*CommentNode)
	for _, node := range order {
		parent, ok := nodes[node.ParentID]
		if node.ParentID != 0 && ok && parent.PostID == node.PostID {
			parent.Children = append(parent.Children, node)
			continue
		}
		forest[node.PostID] = append(forest[node.PostID], node)
	}

	return forest
}
