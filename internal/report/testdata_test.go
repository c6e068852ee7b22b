package report

const sampleBestScheme = `Settings used

alignment         : ./alignment.phy
branchlengths     : linked
models            : all
model_selection   : aicc
search            : greedy


*********************************************************************
Best partitioning scheme

Scheme Name       : step_3
Scheme lnL        : -4701.67
Scheme AICc       : 9561.52
Number of params  : 74
Number of sites   : 1137
Number of subsets : 3

Subset | Best Model | # sites    | subset id                        | Partition names
1      | GTR+I+G    | 379        | 4e3b8d3e6a                       | COI_pos1
2      | HKY+G      | 379        | 8a9f0c5d12                       | COI_pos2
3      | GTR+G      | 379        | 0b7de6f3aa                       | COI_pos3


Scheme Description in PartitionFinder format
Scheme_step_3 = (COI_pos1) (COI_pos2) (COI_pos3);

Nexus formatted character sets
begin sets;
	charset Subset1 = 1-1137\3;
	charset Subset2 = 2-1137\3;
	charset Subset3 = 3-1137\3;
	charpartition PartitionFinder = Group1:Subset1, Group2:Subset2, Group3:Subset3;
end;


Nexus formatted character sets for IQtree
Warning: the models written in the charpartition are just the best model found in this analysis. Not all models are available in IQtree, so you may need to set up specific model lists for your analysis

#nexus
begin sets;
	charset Subset1 = 1-1137\3;
	charset Subset2 = 2-1137\3;
	charset Subset3 = 3-1137\3;
	charpartition PartitionFinder = GTR+I+G:Subset1, HKY+G:Subset2, GTR+G:Subset3;
end;
`

const sampleSchemeCSV = `name,sites,lnL,parameters,subsets,aic,aicc,bic
start_scheme,1137,-4712.40,68,3,9560.80,9569.01,9903.20
step_1,1137,-4705.10,72,2,9554.20,9563.55,9916.81
step_2,1137,-4701.67,74,3,9551.34,9561.52,9924.00
broken,1137,-4700.00,70,3,not-a-number,9000.00,9900.00
`
